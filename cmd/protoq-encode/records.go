package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

// typeKey names the concrete type of a JSON object. Objects without it are
// instances of the declared type.
const typeKey = "@type"

// recordBuilder turns decoded JSON objects into records of a hierarchy.
type recordBuilder struct {
	model *schema.Model
}

func (b *recordBuilder) build(obj map[string]any, declared *schema.Type) (*codec.Record, error) {
	t := declared
	if v, ok := obj[typeKey]; ok {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string, got %T", typeKey, v)
		}
		named, ok := b.model.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", name)
		}
		if !declared.IsAssignableFrom(named) {
			return nil, fmt.Errorf("type %s is not a %s", name, declared.Name())
		}
		t = named
	}

	rec := codec.NewRecord(t)
	for key, raw := range obj {
		if key == typeKey {
			continue
		}
		f := t.Field(key)
		if f == nil {
			return nil, fmt.Errorf("%s has no field %q", t.Name(), key)
		}
		v, err := b.value(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.QualifiedName(), err)
		}
		if err := rec.Set(f, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (b *recordBuilder) value(f *schema.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if f.Repeated {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("repeated field needs an array, got %T", raw)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := b.scalar(f, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	return b.scalar(f, raw)
}

func (b *recordBuilder) scalar(f *schema.Field, raw any) (any, error) {
	if f.Kind == schema.KindMessage {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message field needs an object, got %T", raw)
		}
		return b.build(obj, f.Message)
	}
	if n, ok := raw.(json.Number); ok {
		return number(n)
	}
	return raw, nil
}

// number keeps integers exact beyond 2^53.
func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid number %s", n)
	}
	return f, nil
}
