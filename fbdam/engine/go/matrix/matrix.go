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

// Package matrix builds, and optionally solves, a grid of parameter variants of one model
// specification concurrently.
package matrix

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/kpi"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// Variant is one point of the grid. Params is deep-merged over the scenario bundle of the base
// specification.
type Variant struct {
	Name   string
	Params *dial.Bundle
}

// Options configures Run.
type Options struct {
	// Workers bounds the number of variants processed at once. Zero means GOMAXPROCS.
	Workers int
	// Solver solves each assembled model. A nil Solver only builds the models.
	Solver lpmodel.Solver
}

// Result is the outcome of one variant. Err holds the build or solve error of the variant,
// which does not stop the other variants.
type Result struct {
	Variant  string
	Model    *composer.Model
	Solution *lpmodel.Solution
	KPIs     *kpi.Report
	Err      error
}

// Grid returns the cartesian product of `axes`, mapping dial names to their values, as
// variants overriding the scenario dial table. Axes are iterated in name order, the last one
// varying fastest. Variant names read like `alpha=0.5,beta=0.25`.
func Grid(axes map[string][]float64) ([]Variant, error) {
	names := make([]string, 0, len(axes))
	for n, values := range axes {
		if len(values) == 0 {
			return nil, fmt.Errorf("matrix: axis %q has no values", n)
		}
		names = append(names, n)
	}
	sort.Strings(names)

	var out []Variant
	var walk func(k int, dials map[string]any, label []string) error
	walk = func(k int, dials map[string]any, label []string) error {
		if k == len(names) {
			params, err := dial.NewBundle(map[string]any{"dials": dials})
			if err != nil {
				return err
			}
			out = append(out, Variant{Name: strings.Join(label, ","), Params: params})
			return nil
		}
		for _, v := range axes[names[k]] {
			next := make(map[string]any, len(dials)+1)
			for key, d := range dials {
				next[key] = d
			}
			next[names[k]] = v
			if err := walk(k+1, next, append(label[:k:k], names[k]+"="+strconv.FormatFloat(v, 'g', -1, 64))); err != nil {
				return err
			}
		}
		return nil
	}
	if len(names) == 0 {
		return nil, nil
	}
	if err := walk(0, map[string]any{}, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Run processes every variant of `base` and returns the results in variant order. The error is
// only non-nil when the base specification is invalid or `ctx` is done before all variants
// were processed.
func Run(ctx context.Context, base composer.Source, variants []Variant, opts Options) ([]Result, error) {
	spec, err := base.ModelSpec()
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, v := range variants {
		if gctx.Err() != nil {
			break
		}
		k, v := k, v
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[k] = runVariant(spec, v, opts.Solver)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.V(1).Infof("matrix: %d variants of %q processed, %d failed", len(variants), spec.Name, failed)
	return results, nil
}

func runVariant(spec *composer.Spec, v Variant, solver lpmodel.Solver) Result {
	r := Result{Variant: v.Name}
	vs := *spec
	vs.Params = spec.Params.Merge(v.Params)
	if v.Name != "" {
		vs.Name = spec.Name + "/" + v.Name
	}
	m, err := composer.Build(&vs)
	if err != nil {
		r.Err = fmt.Errorf("variant %q: %w", v.Name, err)
		return r
	}
	r.Model = m
	if solver == nil {
		return r
	}
	sol, err := solver.Solve(m.LP)
	if err != nil {
		r.Err = fmt.Errorf("variant %q: solve: %w", v.Name, err)
		return r
	}
	r.Solution = sol
	if r.KPIs, err = kpi.Compute(m, sol); err != nil {
		r.Err = fmt.Errorf("variant %q: %w", v.Name, err)
	}
	return r
}
