// Package archiving migrates the files of a workspace into an archive
// container and repoints the workspace's records at the archived copies.
//
// A run is a fixed sequence of phases. References are planned from the
// workspace records and persisted locally, the objects are copied
// server-side, every record and workspace attribute is rewritten, the
// workspace metadata is snapshotted into the archive and only then are the
// sources deleted. Two gates stop the run before anything destructive
// happens: a transfer gate when any copy errored and an update gate when any
// record update failed.
//
// Key features:
//   - Resumable multipart copies for large objects
//   - Persisted plans so a failed transfer can be reattempted without rescanning
//   - A sweep mode for objects no record references
//   - A sqlite run ledger of every phase and item outcome
//   - Object stores selected per URI scheme (S3, GCS through its XML API, memory)
//
// Example usage:
//
//	m, err := archiving.New(
//	    archiving.WithWorkspace("my-billing", "my-workspace"),
//	    archiving.WithArchive("gs://my-archive"),
//	    archiving.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	rep, err := m.Migrate(ctx)
//	if err != nil {
//	    fmt.Fprintln(os.Stderr, archiving.Diagnostic(err, rep))
//	    return err
//	}
package archiving
