// Package transform converts source exports into Unit4 batch requests.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
	"github.com/odyssey-erp/unit4-bridge/internal/unit4"
)

// DefaultType is used when a source system does not name a transformer.
const DefaultType = "ABWTransaction"

// Transformer maps one export format into a Unit4 batch.
type Transformer interface {
	Type() string
	CanHandle(raw string) bool
	Transform(raw string, sys sourcesystem.SourceSystem) (*unit4.BatchRequest, error)
}

// UnsupportedTransformerError reports a transformer type with no registration.
type UnsupportedTransformerError struct {
	Type string
}

func (e *UnsupportedTransformerError) Error() string {
	return fmt.Sprintf("transform: no transformer registered for type %q", e.Type)
}

// Registry resolves transformers by their type key, case-insensitively.
type Registry struct {
	byType map[string]Transformer
}

// NewRegistry registers the given transformers.
func NewRegistry(transformers ...Transformer) *Registry {
	r := &Registry{byType: make(map[string]Transformer, len(transformers))}
	for _, t := range transformers {
		if t == nil {
			continue
		}
		r.byType[strings.ToUpper(t.Type())] = t
	}
	return r
}

// Resolve returns the transformer for key; an empty key means DefaultType.
func (r *Registry) Resolve(key string) (Transformer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultType
	}
	if r != nil {
		if t, ok := r.byType[strings.ToUpper(key)]; ok {
			return t, nil
		}
	}
	return nil, &UnsupportedTransformerError{Type: key}
}

// Types lists the registered keys.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byType))
	for _, t := range r.byType {
		out = append(out, t.Type())
	}
	sort.Strings(out)
	return out
}
