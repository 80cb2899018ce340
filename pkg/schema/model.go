// Package schema models polymorphic record hierarchies: types, their declared
// fields and the discriminator tags that attach subtypes to their parents.
//
// A Model is populated up front and then shared by every query built
// against it. Types must not gain fields or subtypes once queries are
// running; the only concurrent mutation the model supports is
// registration of new synthetic types.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	perrors "github.com/arkilian/protoq/internal/errors"
)

// Model owns a set of named types.
type Model struct {
	mu       sync.RWMutex
	types    map[string]*Type
	attached map[any]any
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		types:    make(map[string]*Type),
		attached: make(map[any]any),
	}
}

// TypeOption configures a type at registration.
type TypeOption func(*Type)

// Synthetic marks the registered type as derived from origin. Synthetic types
// are hidden from Types and report origin through Origin.
func Synthetic(origin *Type) TypeOption {
	return func(t *Type) { t.origin = origin }
}

// Add registers a new hierarchy root.
func (m *Model) Add(name string, opts ...TypeOption) (*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.newTypeLocked(name, opts)
	if err != nil {
		return nil, err
	}
	t.root = t
	m.types[name] = t
	return t, nil
}

// AddSubType registers a new type derived from parent. On the wire, the
// subtype's level is carried inside the parent's message under tag.
func (m *Model) AddSubType(parent *Type, tag protowire.Number, name string, opts ...TypeOption) (*Type, error) {
	if parent == nil {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema, "subtype "+name+" has no parent")
	}
	if parent.model != m {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema,
			fmt.Sprintf("parent %s belongs to another model", parent.name))
	}
	if !tag.IsValid() {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema,
			fmt.Sprintf("subtype %s: invalid discriminator tag %d", name, tag))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if parent.tagInUse(tag) {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema,
			fmt.Sprintf("subtype %s: tag %d already used on %s", name, tag, parent.name))
	}
	t, err := m.newTypeLocked(name, opts)
	if err != nil {
		return nil, err
	}
	t.parent = parent
	t.parentTag = tag
	t.root = parent.root
	t.depth = parent.depth + 1
	parent.subtypes = append(parent.subtypes, SubType{Tag: tag, Type: t})
	m.types[name] = t
	return t, nil
}

func (m *Model) newTypeLocked(name string, opts []TypeOption) (*Type, error) {
	if name == "" {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema, "type name is empty")
	}
	if _, exists := m.types[name]; exists {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema,
			fmt.Sprintf("type %s already registered", name))
	}
	t := &Type{model: m, name: name}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Lookup returns the type registered under name.
func (m *Model) Lookup(name string) (*Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[name]
	return t, ok
}

// MustLookup is like Lookup but panics when the type is missing.
func (m *Model) MustLookup(name string) *Type {
	t, ok := m.Lookup(name)
	if !ok {
		panic("schema: unknown type " + name)
	}
	return t
}

// Types returns the declared (non-synthetic) types sorted by name.
func (m *Model) Types() []*Type {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Type, 0, len(m.types))
	for _, t := range m.types {
		if t.origin == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Attach returns the value stored under key, calling build to create it on
// first use. Components that keep per-model state (such as caches) hang it
// off the model this way so it lives exactly as long as the model.
func (m *Model) Attach(key any, build func() any) any {
	m.mu.RLock()
	v, ok := m.attached[key]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.attached[key]; ok {
		return v
	}
	v = build()
	m.attached[key] = v
	return v
}
