package store

import (
	"context"
	"strings"
)

// Doc is a raw document as held by a backend.
type Doc struct {
	ID   string
	Data map[string]any
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// FieldUpdate sets one dotted field path, e.g. "payload.transcript".
type FieldUpdate struct {
	Path  string
	Value any
}

type serverTimestamp struct{}

// ServerTimestamp is a field value meaning "assign now, server-side".
var ServerTimestamp = serverTimestamp{}

// DocStore is the document database collaborator. Get and Update return a
// NOT_FOUND error for missing ids; Delete of a missing id succeeds.
type DocStore interface {
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	Update(ctx context.Context, collection, id string, updates []FieldUpdate) error
	Delete(ctx context.Context, collection, id string) error
	// Watch calls onChange with the full matching set after every change,
	// starting with the current one, until the returned stop func is called.
	Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Doc)) (func(), error)
	Close() error
}

// setPath assigns value at a dotted path, creating intermediate maps.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	ia, okA := asInt64(a)
	ib, okB := asInt64(b)
	if okA && okB {
		return ia == ib
	}
	return a == b
}
