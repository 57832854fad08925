// Copyright 2026 The fbdam Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dial resolves the tunable numeric parameters ("dials") of constraint procedures.
//
// A dial is either a scalar or a mapping keyed by entity id, possibly nested one level for
// pair indices, with an optional "default" entry at each level. Dials are looked up in a
// constraint-local parameter bundle first, then in the scenario dial table, then fall back to
// a caller-supplied default.
package dial

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrNotFound holds the error when a dial cannot be resolved and no default was supplied.
	ErrNotFound = errors.New("dial not found")
	// ErrMalformed holds the error when a parameter has an unexpected shape.
	ErrMalformed = errors.New("malformed parameter")
)

// DefaultKey is the mapping entry used when no entry matches the index.
const DefaultKey = "default"

// legacyDefaultKey is an older spelling of DefaultKey.
const legacyDefaultKey = "__default__"

// Index addresses a dial entry. It is empty for global dials, holds one entity id for
// per-entity dials and two ids for per-pair dials.
type Index []string

// Key returns the index of a per-entity dial.
func Key(id string) Index {
	return Index{id}
}

// Pair returns the index of a per-pair dial.
func Pair(a, b string) Index {
	return Index{a, b}
}

// String returns the index as `()`, `(a)` or `(a, b)`.
func (i Index) String() string {
	return "(" + strings.Join(i, ", ") + ")"
}

type kind int

const (
	scalarKind kind = iota
	perKeyKind
)

// Dial is either a scalar or a mapping from key to Dial.
type Dial struct {
	kind    kind
	value   float64
	entries map[string]Dial
}

// Scalar returns a dial with the same value for every index.
func Scalar(v float64) Dial {
	return Dial{kind: scalarKind, value: v}
}

// PerKey returns a dial whose value depends on the index.
func PerKey(entries map[string]Dial) Dial {
	cp := make(map[string]Dial, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return Dial{kind: perKeyKind, entries: cp}
}

// FromValue converts a parameter value into a Dial. Numbers and numeric strings are scalars
// and mappings are per-key dials. Every other shape is an error wrapping ErrMalformed.
func FromValue(v *structpb.Value) (Dial, error) {
	if s := v.GetStructValue(); s != nil {
		entries := make(map[string]Dial, len(s.GetFields()))
		for k, ev := range s.GetFields() {
			d, err := FromValue(ev)
			if err != nil {
				return Dial{}, fmt.Errorf("entry %q: %w", k, err)
			}
			entries[k] = d
		}
		return Dial{kind: perKeyKind, entries: entries}, nil
	}
	f, err := valueAsFloat(v)
	if err != nil {
		return Dial{}, err
	}
	return Scalar(f), nil
}

// IsScalar returns true for scalar dials.
func (d Dial) IsScalar() bool {
	return d.kind == scalarKind
}

// Keys returns the sorted keys of a per-key dial, and nil for a scalar.
func (d Dial) Keys() []string {
	if d.kind == scalarKind {
		return nil
	}
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Dial) defaultEntry() (Dial, bool) {
	if v, ok := d.entries[DefaultKey]; ok {
		return v, true
	}
	v, ok := d.entries[legacyDefaultKey]
	return v, ok
}

// Lookup resolves the dial at `index`. A scalar matches every index. For a per-key dial and a
// pair index `(a, b)` the entries `[a][b]` then `[a][default]` are tried; for a single key
// the entry `[key]` is tried; in every case `[default]` is the last resort. The boolean result
// is false when no entry matches.
func (d Dial) Lookup(index Index) (float64, bool) {
	if d.kind == scalarKind {
		return d.value, true
	}
	switch len(index) {
	case 1:
		if v, ok := d.entries[index[0]]; ok {
			return v.Lookup(nil)
		}
	case 2:
		if nested, ok := d.entries[index[0]]; ok {
			if nested.kind == scalarKind {
				return nested.value, true
			}
			if v, ok := nested.entries[index[1]]; ok {
				return v.Lookup(nil)
			}
			if v, ok := nested.defaultEntry(); ok {
				return v.Lookup(nil)
			}
		}
	}
	if v, ok := d.defaultEntry(); ok {
		return v.Lookup(nil)
	}
	return 0, false
}
