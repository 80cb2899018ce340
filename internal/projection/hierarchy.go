package projection

import (
	"fmt"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

// Hierarchy is a synthesized reduced hierarchy. It mirrors every type of
// the original hierarchy and is immutable once built.
type Hierarchy struct {
	fingerprint Fingerprint
	origin      *schema.Type
	root        *schema.Type
	fields      []*schema.Field

	types     map[*schema.Type]*schema.Type
	fieldMap  map[*schema.Field]*schema.Field
	sentinels map[*schema.Type]*codec.Record
}

// Fingerprint returns the cache key the hierarchy was built under.
func (h *Hierarchy) Fingerprint() Fingerprint { return h.fingerprint }

// Origin returns the original hierarchy root.
func (h *Hierarchy) Origin() *schema.Type { return h.origin }

// Root returns the reduced hierarchy root.
func (h *Hierarchy) Root() *schema.Type { return h.root }

// Fields returns the original fields the hierarchy carries, sorted by
// owner then name.
func (h *Hierarchy) Fields() []*schema.Field { return h.fields }

// Empty reports whether the reduced hierarchy carries no fields at all.
func (h *Hierarchy) Empty() bool { return len(h.fields) == 0 }

// Counterpart returns the reduced type mirroring orig.
func (h *Hierarchy) Counterpart(orig *schema.Type) (*schema.Type, bool) {
	t, ok := h.types[orig]
	return t, ok
}

// Field returns the reduced field carrying values of the original field
// orig. Asking for a field the hierarchy was not built with is a schema
// mismatch.
func (h *Hierarchy) Field(orig *schema.Field) (*schema.Field, error) {
	if f, ok := h.fieldMap[orig]; ok {
		return f, nil
	}
	return nil, perrors.NewSchemaError(perrors.CodeSchemaMismatch,
		fmt.Sprintf("field %s is not part of reduced hierarchy %s", orig.QualifiedName(), h.fingerprint))
}

// Sentinel returns the shared frozen record standing in for every decoded
// record of reduced type t. Only empty hierarchies have sentinels.
func (h *Hierarchy) Sentinel(t *schema.Type) *codec.Record {
	return h.sentinels[t]
}

// Types returns the number of reduced types in the hierarchy.
func (h *Hierarchy) Types() int { return len(h.types) }
