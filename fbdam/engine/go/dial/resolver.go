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
	"strings"
)

// Fallback is the value used when no layer resolves a dial.
type Fallback struct {
	value float64
	ok    bool
}

// Required makes resolution fail with ErrNotFound when no layer resolves the dial.
var Required = Fallback{}

// Default makes resolution return `v` when no layer resolves the dial.
func Default(v float64) Fallback {
	return Fallback{value: v, ok: true}
}

// Resolver looks dials up in a constraint-local bundle, then in the scenario dial table.
type Resolver struct {
	local    *Bundle
	scenario *Bundle
}

// NewResolver returns a resolver over the given layers, strongest first. Either may be nil.
func NewResolver(local, scenario *Bundle) *Resolver {
	return &Resolver{local: local, scenario: scenario}
}

// lookupName returns the value of dial `name` at `index`. The first layer holding `name` is
// the only one consulted; if its value has no entry for `index` the dial is reported as
// unresolved.
func (r *Resolver) lookupName(name string, index Index) (float64, bool, error) {
	for _, layer := range []*Bundle{r.local, r.scenario} {
		v, ok := layer.Value(name)
		if !ok {
			continue
		}
		d, err := FromValue(v)
		if err != nil {
			return 0, false, fmt.Errorf("dial %q: %w", name, err)
		}
		f, ok := d.Lookup(index)
		return f, ok, nil
	}
	return 0, false, nil
}

// Resolve returns the value of the first dial of `names` that resolves at `index`. `names[0]`
// is the canonical name and the rest are aliases in priority order. When none resolves, the
// fallback value is returned, or an error wrapping ErrNotFound for Required.
func (r *Resolver) Resolve(names []string, index Index, fb Fallback) (float64, error) {
	for _, name := range names {
		f, ok, err := r.lookupName(name, index)
		if err != nil {
			return 0, err
		}
		if ok {
			return f, nil
		}
	}
	if fb.ok {
		return fb.value, nil
	}
	return 0, fmt.Errorf("dial %s at index %v: %w", strings.Join(names, "|"), index, ErrNotFound)
}
