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

// Package composer assembles food-bank allocation models.
//
// A build derives a Substrate (index sets, parameters, decision variables and derived
// expressions) from a domain snapshot, applies the requested constraint procedures in order,
// then the first requested objective procedure, and returns an immutable lpmodel.Model.
// Procedures are looked up by name in process-wide catalogs populated at initialization.
//
// Example:
//
//	m, err := composer.Build(&composer.Spec{
//	    Name:        "week-12",
//	    Domain:      snapshot,
//	    Constraints: []composer.ConstraintSpec{{Name: composer.SupplyLimitName}},
//	})
//	if err != nil {
//	    return err
//	}
//	sol, err := solver.Solve(m.LP)
package composer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

var (
	// ErrUnknownProcedure holds the error when a spec names a procedure missing from the catalog.
	ErrUnknownProcedure = errors.New("unknown procedure")
	// ErrMissingName holds the error when a spec entry has no procedure name.
	ErrMissingName = errors.New("missing procedure name")
	// ErrMissingBudget holds the error when a budget-dependent procedure finds no budget.
	ErrMissingBudget = errors.New("missing budget")
	// ErrInvalidSense holds the error when an objective sense is neither maximize nor minimize.
	ErrInvalidSense = errors.New("invalid objective sense")
	// ErrMalformedSpec holds the error when a specification has an unexpected shape.
	ErrMalformedSpec = errors.New("malformed specification")
	// ErrCatalogSealed holds the error when a procedure is registered after the first build.
	ErrCatalogSealed = errors.New("catalog is sealed")
	// ErrDuplicateProcedure holds the error when a procedure name is registered twice.
	ErrDuplicateProcedure = errors.New("duplicate procedure")
	// ErrInfeasibleBounds holds the error when a strict build detects allocation lower bounds
	// that cannot be met.
	ErrInfeasibleBounds = errors.New("infeasible allocation bounds")
)

// Scenario parameter keys read by the assembler.
const (
	AllowPurchasesKey   = "allow_purchases"
	AllocationDomainKey = "allocation_domain"
	StrictnessKey       = "strictness"
)

// fingerprintSpace is the UUID namespace of model fingerprints.
var fingerprintSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("fbdam:lp-model"))

// Applied records one applied constraint procedure and the number of rows it added.
type Applied struct {
	Name string
	Rows int
}

// Model is an assembled allocation model.
type Model struct {
	// LP is the linear model to hand to a solver.
	LP *lpmodel.Model
	// Substrate gives access to the variables and derived expressions, for reporting.
	Substrate *Substrate
	// Params is the resolved scenario parameter bundle.
	Params         *dial.Bundle
	AllowPurchases bool
	// Families lists the applied constraint procedures, in application order.
	Families []Applied
	// Objective is the name of the applied objective procedure.
	Objective string
	// Fingerprint is derived from the LP text: identical models have identical fingerprints.
	Fingerprint uuid.UUID
}

// Build assembles the model described by `src`. No partial model is returned on error.
func Build(src Source) (*Model, error) {
	spec, err := src.ModelSpec()
	if err != nil {
		return nil, err
	}
	scenario := spec.Params
	if scenario == nil {
		scenario, _ = dial.NewBundle(nil)
	}

	allow, err := purchasesEnabled(spec)
	if err != nil {
		return nil, err
	}
	kind, err := allocationKind(scenario)
	if err != nil {
		return nil, err
	}
	strict, err := isStrict(scenario)
	if err != nil {
		return nil, err
	}
	if strict {
		if err := checkLowerBounds(spec, allow); err != nil {
			return nil, err
		}
	}

	b := lpmodel.NewModelBuilder(spec.Name)
	sub, err := newSubstrate(b, spec.Domain, allow, kind)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", spec.Name, err)
	}
	log.V(1).Infof("model %q: %d items, %d nutrients, %d households, purchases %v, %v allocation",
		spec.Name, len(sub.Items), len(sub.Nutrients), len(sub.Households), allow, kind)

	m := &Model{Substrate: sub, Params: scenario, AllowPurchases: allow}
	for k, cs := range spec.Constraints {
		name := strings.TrimSpace(cs.Name)
		if name == "" {
			return nil, fmt.Errorf("constraint #%d: %w", k, ErrMissingName)
		}
		proc, err := constraintCatalog.lookup(name)
		if err != nil {
			return nil, err
		}
		p, err := newParams(cs.Params, scenario)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", name, err)
		}
		before := b.NumConstraints()
		if err := proc.(ConstraintFunc)(sub, p); err != nil {
			return nil, fmt.Errorf("constraint %q: %w", name, err)
		}
		m.Families = append(m.Families, Applied{Name: name, Rows: b.NumConstraints() - before})
		log.V(1).Infof("constraint %q added %d rows", name, b.NumConstraints()-before)
	}

	objs := spec.Objectives
	if len(objs) == 0 {
		objs = []ObjectiveSpec{{Name: SumUtilityName}}
	}
	for _, extra := range objs[1:] {
		log.Warningf("model %q: objective %q ignored, only the first objective is applied", spec.Name, extra.Name)
	}
	obj := objs[0]
	m.Objective = strings.TrimSpace(obj.Name)
	if m.Objective == "" {
		return nil, fmt.Errorf("objective #0: %w", ErrMissingName)
	}
	proc, err := objectiveCatalog.lookup(m.Objective)
	if err != nil {
		return nil, err
	}
	sense, err := ParseSense(obj.Sense)
	if err != nil {
		return nil, fmt.Errorf("objective %q: %w", m.Objective, err)
	}
	p, err := newParams(obj.Params, scenario)
	if err != nil {
		return nil, fmt.Errorf("objective %q: %w", m.Objective, err)
	}
	if err := proc.(ObjectiveFunc)(sub, p, sense); err != nil {
		return nil, fmt.Errorf("objective %q: %w", m.Objective, err)
	}

	if m.LP, err = b.Model(); err != nil {
		return nil, fmt.Errorf("model %q: %w", spec.Name, err)
	}
	text, err := lpmodel.ExportModelAsLpFormat(m.LP)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", spec.Name, err)
	}
	m.Fingerprint = uuid.NewSHA1(fingerprintSpace, []byte(text))
	log.V(1).Infof("model %q built: %d variables, %d constraints, fingerprint %v",
		spec.Name, len(m.LP.Variables), len(m.LP.Constraints), m.Fingerprint)
	return m, nil
}

func purchasesEnabled(spec *Spec) (bool, error) {
	v, set, err := spec.Params.Bool(AllowPurchasesKey)
	if err != nil {
		return false, err
	}
	if set {
		return v, nil
	}
	for _, cs := range spec.Constraints {
		if n := strings.TrimSpace(cs.Name); n == PurchaseBudgetName || n == PurchaseBudgetAlias {
			return true, nil
		}
	}
	return false, nil
}

func allocationKind(scenario *dial.Bundle) (lpmodel.VarKind, error) {
	v, _, err := scenario.String(AllocationDomainKey)
	if err != nil {
		return lpmodel.Integer, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "integer", "integers", "nonnegativeintegers":
		return lpmodel.Integer, nil
	case "continuous", "real", "reals", "nonnegativereals":
		return lpmodel.Continuous, nil
	}
	return lpmodel.Integer, fmt.Errorf("%s %q: %w", AllocationDomainKey, v, ErrMalformedSpec)
}

func isStrict(scenario *dial.Bundle) (bool, error) {
	v, _, err := scenario.String(StrictnessKey)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lenient":
		return false, nil
	case "strict":
		return true, nil
	}
	return false, fmt.Errorf("%s %q: %w", StrictnessKey, v, ErrMalformedSpec)
}

// purchaseBudget returns the budget seen by the first purchase procedure, or +Inf when none is
// configured.
func purchaseBudget(spec *Spec) (float64, error) {
	for _, cs := range spec.Constraints {
		if n := strings.TrimSpace(cs.Name); n != PurchaseBudgetName && n != PurchaseBudgetAlias {
			continue
		}
		p, err := newParams(cs.Params, spec.Params)
		if err != nil {
			return 0, err
		}
		budget, err := p.Budget()
		if errors.Is(err, ErrMissingBudget) {
			break
		}
		return budget, err
	}
	budget, ok, err := spec.Params.Float("budget")
	if err != nil || ok {
		return budget, err
	}
	return math.Inf(1), nil
}

// checkLowerBounds verifies that for every item the allocation lower bounds fit in the largest
// quantity that can be made available.
func checkLowerBounds(spec *Spec, allowPurchases bool) error {
	budget := 0.0
	if allowPurchases {
		var err error
		if budget, err = purchaseBudget(spec); err != nil {
			return err
		}
	}
	snap := spec.Domain
	for _, i := range snap.ItemIDs() {
		item, err := snap.Item(i)
		if err != nil {
			return err
		}
		lower := 0.0
		for _, h := range snap.HouseholdIDs() {
			if bounds, ok := snap.Bounds(i, h); ok {
				lower += bounds.Lower
			}
		}
		avail := item.Stock
		if allowPurchases {
			avail += BigM(budget, item.Cost)
		}
		if lower > avail {
			return fmt.Errorf("item %q: lower bounds sum to %v, at most %v can be available: %w",
				i, lower, avail, ErrInfeasibleBounds)
		}
	}
	return nil
}
