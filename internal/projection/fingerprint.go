// Package projection synthesizes reduced schema hierarchies: copies of an
// original hierarchy that keep every type but only the fields a query reads.
// Records of the original hierarchy decode into the reduced one because
// every copied field keeps its tag and wire format and every type keeps its
// discriminator tag; fields that were not copied are skipped on the wire.
package projection

import (
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/protoq/pkg/schema"
)

// Fingerprint identifies a field selection over one hierarchy. It is a
// murmur3 128-bit hash of the hierarchy root name and the sorted
// "Owner.Field" names, so the order in which fields are discovered does not
// matter.
type Fingerprint struct {
	Hi, Lo uint64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x", f.Hi, f.Lo)
}

// Compute returns the fingerprint of fields over root's hierarchy.
func Compute(root *schema.Type, fields []*schema.Field) Fingerprint {
	return fingerprint(root.Root(), canonical(fields))
}

func fingerprint(root *schema.Type, fields []*schema.Field) Fingerprint {
	h := murmur3.New128()
	h.Write([]byte(root.Name()))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f.QualifiedName()))
	}
	hi, lo := h.Sum128()
	return Fingerprint{Hi: hi, Lo: lo}
}

// canonical returns fields deduplicated and sorted by owner then name.
func canonical(fields []*schema.Field) []*schema.Field {
	out := make([]*schema.Field, 0, len(fields))
	seen := make(map[*schema.Field]bool, len(fields))
	for _, f := range fields {
		if f == nil || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := ownerName(out[i]), ownerName(out[j])
		if oi != oj {
			return oi < oj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func ownerName(f *schema.Field) string {
	if f.Owner() == nil {
		return ""
	}
	return f.Owner().Name()
}

func sameFields(a, b []*schema.Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
