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

package dial

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Bundle is a read-only parameter bundle backed by a protobuf Struct. A nil *Bundle is a valid
// empty bundle.
type Bundle struct {
	s *structpb.Struct
}

// NewBundle creates a bundle from a Go map, see structpb.NewStruct for the accepted values.
func NewBundle(m map[string]any) (*Bundle, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("parameter bundle: %w: %v", ErrMalformed, err)
	}
	return &Bundle{s: s}, nil
}

// FromStruct wraps `s`. The bundle does not copy `s`, which must not be modified afterwards.
func FromStruct(s *structpb.Struct) *Bundle {
	if s == nil {
		return nil
	}
	return &Bundle{s: s}
}

// Struct returns a copy of the underlying Struct, never nil.
func (b *Bundle) Struct() *structpb.Struct {
	if b == nil || b.s == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return proto.Clone(b.s).(*structpb.Struct)
}

// AsMap returns the bundle as a Go map.
func (b *Bundle) AsMap() map[string]any {
	if b == nil || b.s == nil {
		return map[string]any{}
	}
	return b.s.AsMap()
}

// Keys returns the sorted keys of the bundle.
func (b *Bundle) Keys() []string {
	if b == nil || b.s == nil {
		return nil
	}
	keys := make([]string, 0, len(b.s.GetFields()))
	for k := range b.s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the value stored under `key`. Explicit nulls are reported as absent.
func (b *Bundle) Value(key string) (*structpb.Value, bool) {
	if b == nil || b.s == nil {
		return nil, false
	}
	v, ok := b.s.GetFields()[key]
	if !ok || v == nil {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

// Has returns true if `key` holds a non-null value.
func (b *Bundle) Has(key string) bool {
	_, ok := b.Value(key)
	return ok
}

// Float returns the number stored under `key`. Numeric strings are accepted. The boolean
// result is false if the key is absent.
func (b *Bundle) Float(key string) (float64, bool, error) {
	v, ok := b.Value(key)
	if !ok {
		return 0, false, nil
	}
	f, err := valueAsFloat(v)
	if err != nil {
		return 0, false, fmt.Errorf("parameter %q: %w", key, err)
	}
	return f, true, nil
}

// FirstFloat returns the number stored under the first present key of `keys`, along with
// that key.
func (b *Bundle) FirstFloat(keys ...string) (string, float64, bool, error) {
	for _, k := range keys {
		f, ok, err := b.Float(k)
		if err != nil {
			return k, 0, false, err
		}
		if ok {
			return k, f, true, nil
		}
	}
	return "", 0, false, nil
}

// HasAny returns true if at least one of `keys` holds a non-null value.
func (b *Bundle) HasAny(keys ...string) bool {
	for _, k := range keys {
		if b.Has(k) {
			return true
		}
	}
	return false
}

// Bool returns the boolean stored under `key`. Numbers are true when non-zero. The strings
// true/1/yes/y/on and false/0/no/n/off are accepted case-insensitively, while auto, default
// and the empty string mean the flag is unset. The boolean `set` is false when the key is
// absent or unset.
func (b *Bundle) Bool(key string) (value bool, set bool, err error) {
	v, ok := b.Value(key)
	if !ok {
		return false, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue, true, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue != 0, true, nil
	case *structpb.Value_StringValue:
		switch strings.ToLower(strings.TrimSpace(k.StringValue)) {
		case "true", "1", "yes", "y", "on":
			return true, true, nil
		case "false", "0", "no", "n", "off":
			return false, true, nil
		case "", "auto", "default":
			return false, false, nil
		}
	}
	return false, false, fmt.Errorf("parameter %q is not a boolean flag: %w", key, ErrMalformed)
}

// String returns the string stored under `key`.
func (b *Bundle) String(key string) (string, bool, error) {
	v, ok := b.Value(key)
	if !ok {
		return "", false, nil
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", false, fmt.Errorf("parameter %q is not a string: %w", key, ErrMalformed)
	}
	return s.StringValue, true, nil
}

// Sub returns the nested bundle stored under `key`. The boolean result is false if the key is
// absent.
func (b *Bundle) Sub(key string) (*Bundle, bool, error) {
	v, ok := b.Value(key)
	if !ok {
		return nil, false, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, false, fmt.Errorf("parameter %q is not a mapping: %w", key, ErrMalformed)
	}
	return &Bundle{s: s}, true, nil
}

// Merge returns a new bundle holding `b` deep-merged with `overlay`: nested mappings are merged
// key by key, every other overlay value replaces the base value. Neither input is modified.
func (b *Bundle) Merge(overlay *Bundle) *Bundle {
	out := b.Struct()
	if overlay != nil && overlay.s != nil {
		mergeStruct(out, overlay.s)
	}
	return &Bundle{s: out}
}

func mergeStruct(dst, src *structpb.Struct) {
	if dst.Fields == nil {
		dst.Fields = make(map[string]*structpb.Value, len(src.GetFields()))
	}
	for k, v := range src.GetFields() {
		if sv := v.GetStructValue(); sv != nil {
			if dv := dst.GetFields()[k].GetStructValue(); dv != nil {
				mergeStruct(dv, sv)
				continue
			}
		}
		dst.Fields[k] = proto.Clone(v).(*structpb.Value)
	}
}

func valueAsFloat(v *structpb.Value) (float64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number: %w", k.StringValue, ErrMalformed)
		}
		return f, nil
	}
	return 0, fmt.Errorf("value of kind %T is not a number: %w", v.GetKind(), ErrMalformed)
}
