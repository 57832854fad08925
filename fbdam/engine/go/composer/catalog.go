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
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/golang/glog"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
)

// ProcedureKind tells constraint procedures from objective procedures.
type ProcedureKind int

const (
	// ConstraintProcedure adds rows to the model.
	ConstraintProcedure ProcedureKind = iota
	// ObjectiveProcedure sets the model objective.
	ObjectiveProcedure
)

// String returns the kind name.
func (k ProcedureKind) String() string {
	if k == ObjectiveProcedure {
		return "objective"
	}
	return "constraint"
}

// Procedure is a catalog entry.
type Procedure interface {
	Kind() ProcedureKind
}

// ConstraintFunc adds one or more constraint families to the substrate's builder.
type ConstraintFunc func(s *Substrate, p Params) error

// Kind returns ConstraintProcedure.
func (ConstraintFunc) Kind() ProcedureKind { return ConstraintProcedure }

// ObjectiveFunc sets the objective of the substrate's builder.
type ObjectiveFunc func(s *Substrate, p Params, sense Sense) error

// Kind returns ObjectiveProcedure.
func (ObjectiveFunc) Kind() ProcedureKind { return ObjectiveProcedure }

// Params gives a procedure access to its own parameter bundle, the scenario bundle and the
// dial resolver layered over both.
type Params struct {
	Local    *dial.Bundle
	Scenario *dial.Bundle
	Dials    *dial.Resolver
}

func newParams(local, scenario *dial.Bundle) (Params, error) {
	dials, _, err := scenario.Sub("dials")
	if err != nil {
		return Params{}, err
	}
	return Params{Local: local, Scenario: scenario, Dials: dial.NewResolver(local, dials)}, nil
}

// Budget returns the purchase budget, from the local bundle first.
func (p Params) Budget() (float64, error) {
	for _, b := range []*dial.Bundle{p.Local, p.Scenario} {
		v, ok, err := b.Float("budget")
		if err != nil {
			return 0, err
		}
		if ok {
			return v, nil
		}
	}
	return 0, ErrMissingBudget
}

var lambdaKeys = []string{"lambda", "lambda_", "lam"}

// Lambda returns the slack penalty weight and whether one was supplied.
func (p Params) Lambda() (float64, bool, error) {
	for _, b := range []*dial.Bundle{p.Local, p.Scenario} {
		_, v, ok, err := b.FirstFloat(lambdaKeys...)
		if err != nil || ok {
			return v, ok, err
		}
	}
	return 0, false, nil
}

// UseSlack reports whether adequacy floors are softened by epsilon. An explicit use_slack flag
// wins; otherwise supplying any penalty weight, zero included, turns slack on.
func (p Params) UseSlack() (bool, error) {
	for _, b := range []*dial.Bundle{p.Local, p.Scenario} {
		v, set, err := b.Bool("use_slack")
		if err != nil {
			return false, err
		}
		if set {
			return v, nil
		}
	}
	return p.Local.HasAny(lambdaKeys...) || p.Scenario.HasAny(lambdaKeys...), nil
}

// catalog is a process-wide registry, written during package initialization and read-only
// once sealed.
type catalog struct {
	kind   ProcedureKind
	mu     sync.Mutex
	sealed atomic.Bool
	procs  map[string]Procedure
}

func newCatalog(kind ProcedureKind) *catalog {
	return &catalog{kind: kind, procs: make(map[string]Procedure)}
}

func (c *catalog) register(name string, p Procedure) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%v registration: %w", c.kind, ErrMissingName)
	}
	if p == nil || p.Kind() != c.kind {
		return fmt.Errorf("%v %q: procedure of the wrong kind", c.kind, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed.Load() {
		return fmt.Errorf("%v %q: %w", c.kind, name, ErrCatalogSealed)
	}
	if _, ok := c.procs[name]; ok {
		return fmt.Errorf("%v %q: %w", c.kind, name, ErrDuplicateProcedure)
	}
	c.procs[name] = p
	return nil
}

// seal makes the catalog read-only. Lookups after sealing take no lock.
func (c *catalog) seal() {
	if c.sealed.Load() {
		return
	}
	c.mu.Lock()
	c.sealed.Store(true)
	c.mu.Unlock()
}

func (c *catalog) lookup(name string) (Procedure, error) {
	c.seal()
	p, ok := c.procs[name]
	if !ok {
		return nil, fmt.Errorf("%v %q: %w", c.kind, name, ErrUnknownProcedure)
	}
	return p, nil
}

func (c *catalog) names() []string {
	c.seal()
	names := make([]string, 0, len(c.procs))
	for n := range c.procs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	constraintCatalog = newCatalog(ConstraintProcedure)
	objectiveCatalog  = newCatalog(ObjectiveProcedure)
)

// RegisterConstraint adds a constraint procedure to the process-wide catalog. It must be called
// from an init function: once a model has been built, it fails with ErrCatalogSealed.
func RegisterConstraint(name string, f ConstraintFunc) error {
	return constraintCatalog.register(name, f)
}

// RegisterObjective adds an objective procedure to the process-wide catalog, under the same
// rules as RegisterConstraint.
func RegisterObjective(name string, f ObjectiveFunc) error {
	return objectiveCatalog.register(name, f)
}

// ConstraintNames returns the sorted names of the registered constraint procedures.
func ConstraintNames() []string {
	return constraintCatalog.names()
}

// ObjectiveNames returns the sorted names of the registered objective procedures.
func ObjectiveNames() []string {
	return objectiveCatalog.names()
}

func mustRegister(err error) {
	if err != nil {
		log.Fatalf("composer: %v", err)
	}
}
