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

package composer

import (
	"fmt"
	"strings"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// Sense is the optimization direction of an objective.
type Sense int

const (
	// Maximize is the default sense.
	Maximize Sense = iota
	Minimize
)

// String returns the canonical spelling of the sense.
func (s Sense) String() string {
	if s == Minimize {
		return "minimize"
	}
	return "maximize"
}

// ParseSense parses `maximize` or `minimize`, ignoring case and surrounding spaces. The empty
// string is Maximize.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "maximize":
		return Maximize, nil
	case "minimize":
		return Minimize, nil
	}
	return Maximize, fmt.Errorf("sense %q: %w", s, ErrInvalidSense)
}

// ConstraintSpec requests one constraint procedure.
type ConstraintSpec struct {
	Name   string
	Params *dial.Bundle
}

// ObjectiveSpec requests one objective procedure.
type ObjectiveSpec struct {
	Name   string
	Sense  string
	Params *dial.Bundle
}

// Spec is a normalized model specification.
type Spec struct {
	Name        string
	Domain      *domain.Snapshot
	Constraints []ConstraintSpec
	Objectives  []ObjectiveSpec
	// Params is the scenario-level parameter bundle: the dial table under "dials" plus the
	// budget, lambda, allow_purchases, use_slack, allocation_domain and strictness keys.
	Params *dial.Bundle
}

// Source is anything that can be normalized into a Spec.
type Source interface {
	ModelSpec() (*Spec, error)
}

// ModelSpec returns `s` itself.
func (s *Spec) ModelSpec() (*Spec, error) {
	if s == nil {
		return nil, fmt.Errorf("nil spec: %w", ErrMalformedSpec)
	}
	if s.Domain == nil {
		return nil, fmt.Errorf("spec %q has no domain: %w", s.Name, ErrMalformedSpec)
	}
	return s, nil
}

// ConfigBundle is a plain configuration document, typically decoded from YAML or JSON, paired
// with the domain it applies to. Constraints are read from `model.constraints` (or a top-level
// `constraints`), each entry holding its procedure name under `type`, `name` or `id` and its
// parameters under `params`. Objectives are read the same way from `model.objectives`, with an
// optional `sense`. The scenario bundle is `model_params`, or `params` when absent.
type ConfigBundle struct {
	Name   string
	Domain *domain.Snapshot
	Config *structpb.Struct
}

// ModelSpec normalizes the configuration.
func (c ConfigBundle) ModelSpec() (*Spec, error) {
	if c.Domain == nil {
		return nil, fmt.Errorf("config %q has no domain: %w", c.Name, ErrMalformedSpec)
	}
	root := dial.FromStruct(c.Config)
	section := root
	if sub, ok, err := root.Sub("model"); err != nil {
		return nil, fmt.Errorf("config %q: %w", c.Name, err)
	} else if ok {
		section = sub
	}

	spec := &Spec{Name: c.Name, Domain: c.Domain}
	for _, key := range []string{"model_params", "params"} {
		p, ok, err := section.Sub(key)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", c.Name, err)
		}
		if !ok && section != root {
			if p, ok, err = root.Sub(key); err != nil {
				return nil, fmt.Errorf("config %q: %w", c.Name, err)
			}
		}
		if ok {
			spec.Params = p
			break
		}
	}

	cons, err := entries(section, "constraints")
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", c.Name, err)
	}
	for k, e := range cons {
		name, params, err := entryNameAndParams(e)
		if err != nil {
			return nil, fmt.Errorf("config %q: constraint #%d: %w", c.Name, k, err)
		}
		spec.Constraints = append(spec.Constraints, ConstraintSpec{Name: name, Params: params})
	}

	objs, err := entries(section, "objectives")
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", c.Name, err)
	}
	for k, e := range objs {
		name, params, err := entryNameAndParams(e)
		if err != nil {
			return nil, fmt.Errorf("config %q: objective #%d: %w", c.Name, k, err)
		}
		sense, _, err := e.String("sense")
		if err != nil {
			return nil, fmt.Errorf("config %q: objective #%d: %w", c.Name, k, err)
		}
		spec.Objectives = append(spec.Objectives, ObjectiveSpec{Name: name, Sense: sense, Params: params})
	}
	return spec, nil
}

func entries(b *dial.Bundle, key string) ([]*dial.Bundle, error) {
	v, ok := b.Value(key)
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%q is not a list: %w", key, ErrMalformedSpec)
	}
	var out []*dial.Bundle
	for k, item := range list.GetValues() {
		s := item.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%s[%d] is not a mapping: %w", key, k, ErrMalformedSpec)
		}
		out = append(out, dial.FromStruct(s))
	}
	return out, nil
}

func entryNameAndParams(e *dial.Bundle) (string, *dial.Bundle, error) {
	var name string
	for _, k := range []string{"type", "name", "id"} {
		s, ok, err := e.String(k)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedSpec, err)
		}
		if ok && strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		return "", nil, ErrMissingName
	}
	params, _, err := e.Sub("params")
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w: %v", name, ErrMalformedSpec, err)
	}
	return name, params, nil
}
