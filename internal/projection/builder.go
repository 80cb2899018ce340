package projection

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

// Builder synthesizes reduced hierarchies for one model and caches them by
// fingerprint for the model's lifetime.
type Builder struct {
	model *schema.Model

	mu      sync.RWMutex
	entries map[Fingerprint][]*Hierarchy

	hits        atomic.Int64
	misses      atomic.Int64
	hierarchies atomic.Int64
	types       atomic.Int64
}

// Stats is a snapshot of builder counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Hierarchies int64
	Types       int64
}

type builderKey struct{}

// For returns the builder attached to model, creating it on first use.
func For(model *schema.Model) *Builder {
	return model.Attach(builderKey{}, func() any {
		return &Builder{
			model:   model,
			entries: make(map[Fingerprint][]*Hierarchy),
		}
	}).(*Builder)
}

// Build returns the reduced hierarchy of root's hierarchy carrying exactly
// fields, synthesizing it on first request.
func (b *Builder) Build(root *schema.Type, fields []*schema.Field) (*Hierarchy, error) {
	h, _, err := b.Resolve(root, fields)
	return h, err
}

// Resolve is Build that also reports whether the hierarchy came from cache.
func (b *Builder) Resolve(root *schema.Type, fields []*schema.Field) (*Hierarchy, bool, error) {
	if root == nil {
		return nil, false, perrors.NewSchemaError(perrors.CodeSchemaMismatch, "nil hierarchy root")
	}
	if root.Model() != b.model {
		return nil, false, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
			fmt.Sprintf("type %s belongs to another model", root.Name()))
	}
	if root.Synthetic() {
		return nil, false, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
			fmt.Sprintf("type %s is itself synthesized", root.Name()))
	}
	root = root.Root()
	set := canonical(fields)
	fp := fingerprint(root, set)

	b.mu.RLock()
	h := b.lookupLocked(fp, root, set)
	b.mu.RUnlock()
	if h != nil {
		b.hits.Add(1)
		return h, true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.lookupLocked(fp, root, set); h != nil {
		b.hits.Add(1)
		return h, true, nil
	}

	h, err := b.synthesize(fp, root, set)
	if err != nil {
		return nil, false, err
	}
	b.entries[fp] = append(b.entries[fp], h)
	b.misses.Add(1)
	b.hierarchies.Add(1)
	b.types.Add(int64(h.Types()))
	return h, false, nil
}

func (b *Builder) lookupLocked(fp Fingerprint, root *schema.Type, set []*schema.Field) *Hierarchy {
	for _, h := range b.entries[fp] {
		if h.origin == root && sameFields(h.fields, set) {
			return h
		}
	}
	return nil
}

// Stats returns a snapshot of the builder's counters.
func (b *Builder) Stats() Stats {
	return Stats{
		Hits:        b.hits.Load(),
		Misses:      b.misses.Load(),
		Hierarchies: b.hierarchies.Load(),
		Types:       b.types.Load(),
	}
}

// freePrefix names the synthetic types of a new hierarchy. Fingerprint
// collisions over different field sets, and declared types that happen to
// use a synthetic name, push the prefix to the next free suffix.
func (b *Builder) freePrefix(fp Fingerprint, root *schema.Type) string {
	for n := len(b.entries[fp]); ; n++ {
		prefix := fp.String()
		if n > 0 {
			prefix = fmt.Sprintf("%s-%d", prefix, n)
		}
		free := true
		root.Walk(func(t *schema.Type) {
			if _, taken := b.model.Lookup(prefix + "." + t.Name()); taken {
				free = false
			}
		})
		if free {
			return prefix
		}
	}
}

// synthesize builds the reduced hierarchy top-down from root. Caller holds mu.
func (b *Builder) synthesize(fp Fingerprint, root *schema.Type, set []*schema.Field) (*Hierarchy, error) {
	byOwner := make(map[*schema.Type][]*schema.Field)
	for _, f := range set {
		owner := f.Owner()
		if owner == nil || owner.Root() != root {
			return nil, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
				fmt.Sprintf("field %s is not declared in hierarchy %s", f.QualifiedName(), root.Name()))
		}
		if owner.OwnField(f.Name) != f {
			return nil, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
				fmt.Sprintf("field %s is missing from %s's own fields", f.Name, owner.Name()))
		}
		byOwner[owner] = append(byOwner[owner], f)
	}

	h := &Hierarchy{
		fingerprint: fp,
		origin:      root,
		fields:      set,
		types:       make(map[*schema.Type]*schema.Type),
		fieldMap:    make(map[*schema.Field]*schema.Field, len(set)),
	}

	// Unreachable owners and name clashes are settled before the first type
	// is registered. Past that point Add and CopyField only repeat checks the
	// original types already passed, so no orphan types are left behind.
	reached := make(map[*schema.Type]bool)
	root.Walk(func(t *schema.Type) { reached[t] = true })
	var unreached []string
	for owner := range byOwner {
		if !reached[owner] {
			unreached = append(unreached, owner.Name())
		}
	}
	if len(unreached) > 0 {
		sort.Strings(unreached)
		return nil, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
			fmt.Sprintf("types %v were never reached from %s", unreached, root.Name()))
	}
	prefix := b.freePrefix(fp, root)

	var visit func(orig, parent *schema.Type) error
	visit = func(orig, parent *schema.Type) error {
		name := prefix + "." + orig.Name()
		var (
			t   *schema.Type
			err error
		)
		if parent == nil {
			t, err = b.model.Add(name, schema.Synthetic(orig))
		} else {
			t, err = b.model.AddSubType(parent, orig.ParentTag(), name, schema.Synthetic(orig))
		}
		if err != nil {
			return err
		}
		h.types[orig] = t

		for _, f := range byOwner[orig] {
			cp, err := t.CopyField(f)
			if err != nil {
				return err
			}
			h.fieldMap[f] = cp
		}

		for _, st := range orig.SubTypes() {
			if err := visit(st.Type, t); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root, nil); err != nil {
		return nil, err
	}
	h.root = h.types[root]

	if len(set) == 0 {
		h.sentinels = make(map[*schema.Type]*codec.Record, len(h.types))
		for _, t := range h.types {
			rec := codec.NewRecord(t)
			rec.Freeze()
			h.sentinels[t] = rec
		}
	}

	log.Printf("projection: synthesized %d types for %s with %d fields (fingerprint %s)",
		len(h.types), root.Name(), len(set), fp)
	return h, nil
}
