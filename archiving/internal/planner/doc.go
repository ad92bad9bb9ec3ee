// Package planner discovers storage references in a workspace's records and
// attributes and computes where each one moves in the archive container.
//
// The planner produces the reference map and the pending record and
// attribute rewrites. It never mutates the record store or storage.
package planner
