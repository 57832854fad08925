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

// Package scenario loads allocation scenarios from disk.
//
// A scenario file names a dataset directory and a configuration file:
//
//	version: 1
//	dataset: {id: pantry}            # defaults to ../data/pantry
//	config: {id: baseline}           # defaults to ../configs/baseline.yaml
//	model:                           # deep-merged over the config model section
//	  params: {allocation_domain: continuous}
//	filters: {households: [h1, h2]}  # optional subset of the dataset
//	solver: {options: {tolerance: 1e-9}}
//
// The config `model` section lists constraints and objectives as references to the packaged
// catalogs, each with an optional `override` mapping deep-merged into the catalog parameters.
// The dataset directory holds the CSV tables read by LoadDataset and an optional params.yaml
// merged over the model parameters.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
	"github.com/fbdam/fbdam/fbdam/linear/go/simplex"
)

var (
	// ErrInvalidScenario is returned when a scenario or config file is structurally invalid.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrDataset is returned when a dataset table is missing or malformed.
	ErrDataset = errors.New("invalid dataset")
)

// DefaultSolver is the solver name used when neither the config nor the scenario names one.
const DefaultSolver = simplex.Name

// Solver is the normalized solver section. Options only hold scalar values.
type Solver struct {
	Name    string
	Options *dial.Bundle
}

// Scenario is a fully materialized scenario, ready to be assembled by composer.Build.
type Scenario struct {
	ID          string
	Version     string
	DatasetID   string
	DatasetRoot string
	ConfigID    string
	ConfigPath  string

	Domain      *domain.Snapshot
	Constraints []composer.ConstraintSpec
	Objectives  []composer.ObjectiveSpec
	// Params is the scenario bundle: the config model parameters with params.yaml merged over.
	Params *dial.Bundle
	Solver Solver
}

var _ composer.Source = (*Scenario)(nil)

// ModelSpec returns the model specification of the scenario.
func (s *Scenario) ModelSpec() (*composer.Spec, error) {
	if s == nil || s.Domain == nil {
		return nil, fmt.Errorf("scenario without domain: %w", composer.ErrMalformedSpec)
	}
	return &composer.Spec{
		Name:        s.ID,
		Domain:      s.Domain,
		Constraints: append([]composer.ConstraintSpec(nil), s.Constraints...),
		Objectives:  append([]composer.ObjectiveSpec(nil), s.Objectives...),
		Params:      s.Params,
	}, nil
}

// Load reads the scenario file at `path` along with the config, catalogs and dataset it
// references.
func Load(path string) (*Scenario, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	doc, err := readYAML(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	dir := filepath.Dir(path)

	sc := &Scenario{ID: trimExt(name)}
	if id, ok, err := doc.String("scenario_id"); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrInvalidScenario, err)
	} else if ok && id != "" {
		sc.ID = id
	}
	if v, ok := doc.Value("version"); ok {
		sc.Version = scalarString(v)
	}

	if sc.DatasetID, sc.DatasetRoot, err = resolveSection(doc, "dataset", dir, name); err != nil {
		return nil, err
	}
	if st, err := os.Stat(sc.DatasetRoot); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%s::dataset: directory not found -> %s: %w", name, sc.DatasetRoot, ErrInvalidScenario)
	}
	if sc.ConfigID, sc.ConfigPath, err = resolveSection(doc, "config", dir, name); err != nil {
		return nil, err
	}
	if st, err := os.Stat(sc.ConfigPath); err == nil && st.IsDir() {
		sc.ConfigPath = filepath.Join(sc.ConfigPath, sc.ConfigID+".yaml")
	}
	config, err := readYAML(sc.ConfigPath)
	if err != nil {
		return nil, err
	}
	configName := filepath.Base(sc.ConfigPath)

	model, err := composeModelSection(config, doc, configName, name)
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalogs()
	if err != nil {
		return nil, err
	}
	if sc.Constraints, err = cat.materializeConstraints(model, configName+"::model.constraints"); err != nil {
		return nil, err
	}
	if sc.Objectives, err = cat.materializeObjectives(model, configName+"::model.objectives"); err != nil {
		return nil, err
	}
	if sc.Solver, err = composeSolver(config, doc, name); err != nil {
		return nil, err
	}

	data, err := LoadDataset(sc.DatasetRoot)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", sc.DatasetID, err)
	}
	if filters, ok, err := doc.Sub("filters"); err != nil {
		return nil, fmt.Errorf("%s::filters: %w: %v", name, ErrInvalidScenario, err)
	} else if ok {
		if data, err = applyFilters(data, filters); err != nil {
			return nil, fmt.Errorf("%s::filters: %w", name, err)
		}
	}
	if sc.Domain, err = domain.NewSnapshot(data); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", sc.DatasetID, err)
	}

	if sc.Params, err = modelParams(model, sc.DatasetRoot); err != nil {
		return nil, err
	}
	items, nutrients, households := sc.Domain.Counts()
	log.V(1).Infof("scenario %q: dataset %q (%d items, %d nutrients, %d households), config %q, %d constraints, %d objectives",
		sc.ID, sc.DatasetID, items, nutrients, households, sc.ConfigID, len(sc.Constraints), len(sc.Objectives))
	return sc, nil
}

// resolveSection reads a `{id, path}` section. The path defaults to ../data/<id> for the
// dataset and ../configs/<id>.yaml for the config, relative to the scenario directory.
func resolveSection(doc *dial.Bundle, key, dir, name string) (string, string, error) {
	sec, ok, err := doc.Sub(key)
	if err != nil || !ok {
		return "", "", fmt.Errorf("%s::%s: must be a mapping with an 'id': %w", name, key, ErrInvalidScenario)
	}
	id, ok, err := sec.String("id")
	if err != nil || !ok || id == "" {
		return "", "", fmt.Errorf("%s::%s: missing or invalid 'id': %w", name, key, ErrInvalidScenario)
	}
	p, ok, err := sec.String("path")
	if err != nil {
		return "", "", fmt.Errorf("%s::%s: %w: %v", name, key, ErrInvalidScenario, err)
	}
	if !ok {
		if key == "dataset" {
			p = filepath.Join("..", "data", id)
		} else {
			p = filepath.Join("..", "configs", id+".yaml")
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return id, filepath.Clean(p), nil
}

func composeModelSection(config, doc *dial.Bundle, configName, name string) (*dial.Bundle, error) {
	base, ok, err := config.Sub("model")
	if err != nil {
		return nil, fmt.Errorf("%s::model: must be a mapping: %w", configName, ErrInvalidScenario)
	}
	if !ok {
		return nil, fmt.Errorf("%s: configuration is missing a 'model' section: %w", configName, ErrInvalidScenario)
	}
	override, _, err := doc.Sub("model")
	if err != nil {
		return nil, fmt.Errorf("%s::model: overrides must be a mapping: %w", name, ErrInvalidScenario)
	}
	return base.Merge(override), nil
}

// composeSolver merges the scenario solver section over the config one. Options are merged
// key by key.
func composeSolver(config, doc *dial.Bundle, name string) (Solver, error) {
	var merged *dial.Bundle
	for _, b := range []*dial.Bundle{config, doc} {
		sec, _, err := b.Sub("solver")
		if err != nil {
			return Solver{}, fmt.Errorf("%s::solver: must be a mapping: %w", name, ErrInvalidScenario)
		}
		merged = merged.Merge(sec)
	}
	s := Solver{Name: DefaultSolver}
	if n, ok, err := merged.String("name"); err != nil || (ok && n == "") {
		return Solver{}, fmt.Errorf("%s::solver.name must be a non-empty string: %w", name, ErrInvalidScenario)
	} else if ok {
		s.Name = n
	}
	opts, _, err := merged.Sub("options")
	if err != nil {
		return Solver{}, fmt.Errorf("%s::solver.options must be a mapping: %w", name, ErrInvalidScenario)
	}
	for _, k := range opts.Keys() {
		v, _ := opts.Value(k)
		switch v.GetKind().(type) {
		case *structpb.Value_StructValue, *structpb.Value_ListValue:
			return Solver{}, fmt.Errorf("%s::solver.options[%q] must be a scalar: %w", name, k, ErrInvalidScenario)
		}
	}
	s.Options = opts
	return s, nil
}

// modelParams returns the model parameters (`params`, or `model_params`) of the model
// section with the dataset params.yaml, when present, merged over them.
func modelParams(model *dial.Bundle, datasetRoot string) (*dial.Bundle, error) {
	var params *dial.Bundle
	for _, key := range []string{"params", "model_params"} {
		p, ok, err := model.Sub(key)
		if err != nil {
			return nil, fmt.Errorf("model.%s: %w: %v", key, ErrInvalidScenario, err)
		}
		if ok {
			params = p
			break
		}
	}
	path := filepath.Join(datasetRoot, paramsFile)
	if _, err := os.Stat(path); err != nil {
		return params.Merge(nil), nil
	}
	file, err := readYAML(path)
	if err != nil {
		return nil, err
	}
	return params.Merge(file), nil
}

func readYAML(path string) (*dial.Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return decodeYAML(filepath.Base(path), raw)
}

func decodeYAML(name string, raw []byte) (*dial.Bundle, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrInvalidScenario, err)
	}
	if doc == nil {
		return dial.NewBundle(nil)
	}
	m, ok := normalize(doc).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: YAML must be a mapping at the top-level: %w", name, ErrInvalidScenario)
	}
	b, err := dial.NewBundle(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// normalize converts decoded YAML into values accepted by structpb.NewValue.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339)
	}
	return v
}

func scalarString(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return fmt.Sprint(k.NumberValue)
	case *structpb.Value_BoolValue:
		return fmt.Sprint(k.BoolValue)
	}
	return ""
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
