package metastore

import (
	"fmt"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// Item types of the record service's list wrapper.
const (
	ItemsTypeAttributeValue  = "AttributeValue"
	ItemsTypeEntityReference = "EntityReference"
)

// Wire implements Value.
func (v Scalar) Wire() any { return v.V }

// Wire implements Value.
func (v List) Wire() any {
	items := v.Items
	if items == nil {
		items = []any{}
	}
	return map[string]any{"itemsType": ItemsTypeAttributeValue, "items": items}
}

// Wire implements Value.
func (v Document) Wire() any { return v.V }

// Wire implements Value.
func (v References) Wire() any {
	items := make([]any, len(v.Names))
	for i, n := range v.Names {
		items[i] = map[string]any{"entityType": v.EntityType, "entityName": n}
	}
	return map[string]any{"itemsType": ItemsTypeEntityReference, "items": items}
}

// DecodeWire classifies a JSON-decoded attribute value from the record service.
// Objects carrying "items" are lists or entity references; any other object
// or bare array is a document.
func DecodeWire(raw any) Value {
	switch v := raw.(type) {
	case map[string]any:
		items, ok := v["items"]
		if !ok {
			return Document{V: v}
		}
		list, _ := items.([]any)
		if refs, ok := decodeReferences(v["itemsType"], list); ok {
			return refs
		}
		return List{Items: list}
	case []any:
		return Document{V: v}
	}
	return Scalar{V: raw}
}

func decodeReferences(itemsType any, list []any) (References, bool) {
	isRef := itemsType == ItemsTypeEntityReference
	if !isRef && len(list) > 0 {
		_, isRef = list[0].(map[string]any)
	}
	if !isRef {
		return References{}, false
	}

	refs := References{Names: make([]string, 0, len(list))}
	for _, item := range list {
		m, _ := item.(map[string]any)
		if t, ok := m["entityType"].(string); ok && refs.EntityType == "" {
			refs.EntityType = t
		}
		if n, ok := m["entityName"].(string); ok {
			refs.Names = append(refs.Names, n)
		}
	}
	return refs, true
}

// EncodeArtifact renders a value for persisted plan files: lists as bare
// arrays, documents as {"json": v}, entity references as
// {"references": type, "items": names}.
func EncodeArtifact(v Value) any {
	switch t := v.(type) {
	case Scalar:
		return t.V
	case List:
		if t.Items == nil {
			return []any{}
		}
		return t.Items
	case Document:
		return map[string]any{"json": t.V}
	case References:
		names := make([]any, len(t.Names))
		for i, n := range t.Names {
			names[i] = n
		}
		return map[string]any{"references": t.EntityType, "items": names}
	}
	return nil
}

// DecodeArtifact reverses EncodeArtifact.
func DecodeArtifact(raw any) (Value, error) {
	switch v := raw.(type) {
	case []any:
		return List{Items: v}, nil
	case map[string]any:
		if doc, ok := v["json"]; ok && len(v) == 1 {
			return Document{V: doc}, nil
		}
		if et, ok := v["references"].(string); ok {
			items, _ := v["items"].([]any)
			refs := References{EntityType: et, Names: make([]string, 0, len(items))}
			for _, item := range items {
				n, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: reference name %v", arkerrors.ErrMalformedValue, item)
				}
				refs.Names = append(refs.Names, n)
			}
			return refs, nil
		}
		return nil, fmt.Errorf("%w: unrecognized plan value object", arkerrors.ErrMalformedValue)
	}
	return Scalar{V: raw}, nil
}

// EncodeRow renders a column to value mapping with EncodeArtifact.
func EncodeRow(row map[string]Value) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = EncodeArtifact(v)
	}
	return out
}

// DecodeRow reverses EncodeRow.
func DecodeRow(raw map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(raw))
	for k, r := range raw {
		v, err := DecodeArtifact(r)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
