package metastore

import (
	"fmt"
	"sort"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// Match is the result of testing one string against the reference map.
type Match int

// Match results
const (
	// NoMatch means the string is not a reference
	NoMatch Match = iota

	// Reused means the string was already mapped
	Reused

	// Planned means a new destination was computed for the string
	Planned
)

// Rewriter maps candidate reference strings to destinations. index is nil
// for scalar cells and holds the position for list elements and document
// references.
type Rewriter interface {
	Rewrite(s string, index *int) (string, Match)
}

// Value is one attribute value. The variants are closed: Scalar, List,
// Document and References.
type Value interface {
	// Plan returns the rewritten value and true when the value holds at
	// least one reference.
	Plan(rw Rewriter) (Value, bool, error)

	// Wire returns the value in the record service's JSON shape.
	Wire() any

	isValue()
}

// Scalar is a string, number, boolean or null attribute.
type Scalar struct {
	V any
}

// List is an AttributeValue list.
type List struct {
	Items []any
}

// Document is free-form JSON embedded in an attribute.
type Document struct {
	V any
}

// References is an EntityReference list. It never holds storage references.
type References struct {
	EntityType string
	Names      []string
}

func (Scalar) isValue()     {}
func (List) isValue()       {}
func (Document) isValue()   {}
func (References) isValue() {}

// Plan implements Value.
func (v Scalar) Plan(rw Rewriter) (Value, bool, error) {
	s, ok := v.V.(string)
	if !ok {
		return nil, false, nil
	}
	dest, m := rw.Rewrite(s, nil)
	if m == NoMatch {
		return nil, false, nil
	}
	return Scalar{V: dest}, true, nil
}

// Plan implements Value. Lists whose first element is not a string are not
// reference-bearing. Nested lists or objects inside a string list are
// malformed.
func (v List) Plan(rw Rewriter) (Value, bool, error) {
	if len(v.Items) == 0 {
		return nil, false, nil
	}
	if _, ok := v.Items[0].(string); !ok {
		return nil, false, nil
	}
	for i, item := range v.Items {
		switch item.(type) {
		case []any, map[string]any:
			return nil, false, fmt.Errorf("%w: element %d of a string list is %T",
				arkerrors.ErrMalformedValue, i, item)
		}
	}

	var aggregate []any
	for i, item := range v.Items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		idx := i
		dest, m := rw.Rewrite(s, &idx)
		if m == NoMatch {
			continue
		}
		if aggregate == nil {
			aggregate = append([]any(nil), v.Items...)
		}
		aggregate[i] = dest
	}
	if aggregate == nil {
		return nil, false, nil
	}
	return List{Items: aggregate}, true, nil
}

// Plan implements Value. The document is walked depth first with mapping
// keys in sorted order, keys before their values. Each newly planned
// reference consumes one position; reused ones do not.
func (v Document) Plan(rw Rewriter) (Value, bool, error) {
	pos := 0
	out, changed := walkDocument(rw, v.V, &pos)
	if !changed {
		return nil, false, nil
	}
	return Document{V: out}, true, nil
}

func walkDocument(rw Rewriter, node any, pos *int) (any, bool) {
	switch n := node.(type) {
	case string:
		idx := *pos
		dest, m := rw.Rewrite(n, &idx)
		switch m {
		case Planned:
			*pos++
			return dest, true
		case Reused:
			return dest, true
		}
		return n, false
	case []any:
		out := make([]any, len(n))
		changed := false
		for i, item := range n {
			b, c := walkDocument(rw, item, pos)
			out[i] = b
			changed = changed || c
		}
		return out, changed
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(n))
		changed := false
		for _, k := range keys {
			q, ck := walkDocument(rw, k, pos)
			b, cv := walkDocument(rw, n[k], pos)
			out[q.(string)] = b
			changed = changed || ck || cv
		}
		return out, changed
	}
	return node, false
}

// Plan implements Value. Entity references are never planned.
func (References) Plan(Rewriter) (Value, bool, error) {
	return nil, false, nil
}
