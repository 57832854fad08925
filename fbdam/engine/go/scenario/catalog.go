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

package scenario

import (
	"embed"
	"fmt"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
)

const (
	constraintsCatalog = "catalogs/constraints_v1.yaml"
	objectivesCatalog  = "catalogs/objectives_v1.yaml"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

type catalogs struct {
	constraints map[string]*dial.Bundle
	objectives  map[string]*dial.Bundle
}

func loadCatalogs() (*catalogs, error) {
	cons, err := loadCatalog(constraintsCatalog, "constraints")
	if err != nil {
		return nil, err
	}
	objs, err := loadCatalog(objectivesCatalog, "objectives")
	if err != nil {
		return nil, err
	}
	return &catalogs{constraints: cons, objectives: objs}, nil
}

// loadCatalog indexes the entries listed under `root` by id.
func loadCatalog(file, root string) (map[string]*dial.Bundle, error) {
	raw, err := catalogFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("packaged catalog %s: %w", file, err)
	}
	doc, err := decodeYAML(file, raw)
	if err != nil {
		return nil, err
	}
	list, err := mappings(doc, root, file)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*dial.Bundle, len(list))
	for i, e := range list {
		id, ok, err := e.String("id")
		if err != nil || !ok || id == "" {
			return nil, fmt.Errorf("catalog %s[%d] missing non-empty 'id': %w", root, i, ErrInvalidScenario)
		}
		out[id] = e
	}
	return out, nil
}

// mappings returns the list of mappings stored under `key`, or nil if the key is absent.
func mappings(b *dial.Bundle, key, context string) ([]*dial.Bundle, error) {
	v, ok := b.Value(key)
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s: %q must be a list: %w", context, key, ErrInvalidScenario)
	}
	out := make([]*dial.Bundle, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		s := item.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%s[%d]: each entry must be a mapping: %w", context, i, ErrInvalidScenario)
		}
		out = append(out, dial.FromStruct(s))
	}
	return out, nil
}

// resolve looks up the catalog entry referenced by `entry` and returns it along with its
// parameters, the catalog defaults deep-merged with the entry override.
func resolve(index map[string]*dial.Bundle, entry *dial.Bundle, context string) (string, *dial.Bundle, *dial.Bundle, error) {
	ref, ok, err := entry.String("ref")
	if err != nil || !ok || ref == "" {
		return "", nil, nil, fmt.Errorf("%s: missing 'ref' field: %w", context, composer.ErrMissingName)
	}
	cat, ok := index[ref]
	if !ok {
		return "", nil, nil, fmt.Errorf("%s: ref %q: %w", context, ref, composer.ErrUnknownProcedure)
	}
	base, _, err := cat.Sub("params")
	if err != nil {
		return "", nil, nil, fmt.Errorf("%s::%s: %w: %v", context, ref, ErrInvalidScenario, err)
	}
	override, _, err := entry.Sub("override")
	if err != nil {
		return "", nil, nil, fmt.Errorf("%s::%s: 'override' must be a mapping: %w", context, ref, ErrInvalidScenario)
	}
	return ref, cat, base.Merge(override), nil
}

func (c *catalogs) materializeConstraints(model *dial.Bundle, context string) ([]composer.ConstraintSpec, error) {
	list, err := mappings(model, "constraints", context)
	if err != nil {
		return nil, err
	}
	var out []composer.ConstraintSpec
	for i, e := range list {
		ctx := fmt.Sprintf("%s[%d]", context, i)
		ref, cat, params, err := resolve(c.constraints, e, ctx)
		if err != nil {
			return nil, err
		}
		name := ref
		if t, ok, err := cat.String("type"); err != nil {
			return nil, fmt.Errorf("%s::%s: %w: %v", ctx, ref, ErrInvalidScenario, err)
		} else if ok && t != "" {
			name = t
		}
		out = append(out, composer.ConstraintSpec{Name: name, Params: params})
	}
	return out, nil
}

func (c *catalogs) materializeObjectives(model *dial.Bundle, context string) ([]composer.ObjectiveSpec, error) {
	list, err := mappings(model, "objectives", context)
	if err != nil {
		return nil, err
	}
	var out []composer.ObjectiveSpec
	for i, e := range list {
		ctx := fmt.Sprintf("%s[%d]", context, i)
		ref, cat, params, err := resolve(c.objectives, e, ctx)
		if err != nil {
			return nil, err
		}
		name, ok, err := cat.String("name")
		if err != nil || !ok || name == "" {
			return nil, fmt.Errorf("%s::%s: missing or invalid 'name': %w", ctx, ref, ErrInvalidScenario)
		}
		sense, _, err := cat.String("sense")
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w: %v", ctx, ref, ErrInvalidScenario, err)
		}
		if s, ok, err := e.String("sense"); err != nil {
			return nil, fmt.Errorf("%s::%s: %w: %v", ctx, ref, ErrInvalidScenario, err)
		} else if ok {
			sense = s
		}
		if _, err := composer.ParseSense(sense); err != nil {
			return nil, fmt.Errorf("%s::%s: %w", ctx, ref, err)
		}
		out = append(out, composer.ObjectiveSpec{Name: name, Sense: sense, Params: params})
	}
	return out, nil
}
