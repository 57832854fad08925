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
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

func testData() domain.Data {
	return domain.Data{
		Items: []domain.Item{
			{ID: "rice", Name: "Rice", Stock: 10, Cost: 4},
			{ID: "beans", Name: "Beans", Stock: 5, Cost: 0},
		},
		Nutrients: []domain.Nutrient{
			{ID: "protein", Name: "Protein"},
		},
		Households: []domain.Household{
			{ID: "h1", Name: "House 1", FairShareWeight: 0.6},
			{ID: "h2", Name: "House 2", FairShareWeight: 0.4},
		},
		ItemNutrients: []domain.ItemNutrient{
			{ItemID: "rice", NutrientID: "protein", QtyPerUnit: 2},
			{ItemID: "beans", NutrientID: "protein", QtyPerUnit: 3},
		},
		Requirements: []domain.Requirement{
			{HouseholdID: "h1", NutrientID: "protein", Amount: 20},
			{HouseholdID: "h2", NutrientID: "protein", Amount: 10},
		},
		Bounds: []domain.AllocationBounds{
			{ItemID: "rice", HouseholdID: "h1", Lower: 1, Upper: domain.UpperBound(6)},
		},
	}
}

func mustSnapshot(t *testing.T, d domain.Data) *domain.Snapshot {
	t.Helper()
	s, err := domain.NewSnapshot(d)
	if err != nil {
		t.Fatalf("NewSnapshot() returned with unexpected error %v", err)
	}
	return s
}

func mustBundle(t *testing.T, m map[string]any) *dial.Bundle {
	t.Helper()
	b, err := dial.NewBundle(m)
	if err != nil {
		t.Fatalf("NewBundle(%v) returned with unexpected error %v", m, err)
	}
	return b
}

func mustBuild(t *testing.T, src Source) *Model {
	t.Helper()
	m, err := Build(src)
	if err != nil {
		t.Fatalf("Build() returned with unexpected error %v", err)
	}
	return m
}

func mustRow(t *testing.T, m *Model, name string) lpmodel.LinearConstraint {
	t.Helper()
	c, ok := m.LP.ConstraintByName(name)
	if !ok {
		t.Fatalf("constraint %q not found in model", name)
	}
	return c
}

func mustVariable(t *testing.T, m *Model, name string) lpmodel.Variable {
	t.Helper()
	ind, ok := m.LP.VarIndexByName(name)
	if !ok {
		t.Fatalf("variable %q not found in model", name)
	}
	return m.LP.Variables[ind]
}

// termsByName returns the coefficients of `terms` keyed by variable name.
func termsByName(m *Model, terms []lpmodel.Term) map[string]float64 {
	out := make(map[string]float64, len(terms))
	for _, t := range terms {
		out[m.LP.Variables[t.Var].Name] = t.Coeff
	}
	return out
}

// values returns a solution vector with the named variables set and every other variable 0.
func values(t *testing.T, m *Model, named map[string]float64) []float64 {
	t.Helper()
	vals := make([]float64, len(m.LP.Variables))
	for name, v := range named {
		ind, ok := m.LP.VarIndexByName(name)
		if !ok {
			t.Fatalf("variable %q not found in model", name)
		}
		vals[ind] = v
	}
	return vals
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestBigM(t *testing.T) {
	tests := []struct {
		budget, cost, want float64
	}{
		{budget: 100, cost: 4, want: 25},
		{budget: 100, cost: 0, want: 100 / 1e-9},
		{budget: 100, cost: 1e-12, want: 100 / 1e-9},
		{budget: 0, cost: 4, want: 0},
		{budget: -3, cost: 4, want: 0},
	}
	for _, test := range tests {
		got := BigM(test.budget, test.cost)
		if math.Abs(got-test.want) > 1e-9*test.want {
			t.Errorf("BigM(%v, %v) = %v, want %v", test.budget, test.cost, got, test.want)
		}
		if math.IsInf(got, 0) || math.IsNaN(got) {
			t.Errorf("BigM(%v, %v) = %v, want a finite value", test.budget, test.cost, got)
		}
	}
}

func TestBuild_Substrate(t *testing.T) {
	m := mustBuild(t, &Spec{Name: "substrate", Domain: mustSnapshot(t, testData())})

	want := []string{
		"x[beans,h1]", "x[beans,h2]", "x[rice,h1]", "x[rice,h2]",
		"u[protein,h1]", "u[protein,h2]",
		"y[beans]", "y_active[beans]", "y[rice]", "y_active[rice]",
		"dpos[beans,h1]", "dneg[beans,h1]", "dpos[beans,h2]", "dneg[beans,h2]",
		"dpos[rice,h1]", "dneg[rice,h1]", "dpos[rice,h2]", "dneg[rice,h2]",
		"epsilon",
	}
	var got []string
	for _, v := range m.LP.Variables {
		got = append(got, v.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("variable names mismatch (-want +got):\n%s", diff)
	}

	if got, want := mustVariable(t, m, "x[rice,h1]"), (lpmodel.Variable{Name: "x[rice,h1]", Lower: 1, Upper: 6, Kind: lpmodel.Integer}); got != want {
		t.Errorf("x[rice,h1] = %v, want %v", got, want)
	}
	if got, want := mustVariable(t, m, "x[beans,h2]"), (lpmodel.Variable{Name: "x[beans,h2]", Lower: 0, Upper: math.Inf(1), Kind: lpmodel.Integer}); got != want {
		t.Errorf("x[beans,h2] = %v, want %v", got, want)
	}
	if got, want := mustVariable(t, m, "u[protein,h2]"), (lpmodel.Variable{Name: "u[protein,h2]", Lower: 0, Upper: 1, Kind: lpmodel.Continuous}); got != want {
		t.Errorf("u[protein,h2] = %v, want %v", got, want)
	}
	if len(m.LP.Constraints) != 0 {
		t.Errorf("Build() without constraints returned %d rows, want 0", len(m.LP.Constraints))
	}
	if m.Objective != SumUtilityName || !m.LP.Objective.Maximize {
		t.Errorf("default objective = %q (maximize %v), want %q (maximize true)", m.Objective, m.LP.Objective.Maximize, SumUtilityName)
	}
}

func TestBuild_AllocationDomain(t *testing.T) {
	snap := mustSnapshot(t, testData())
	m := mustBuild(t, &Spec{Domain: snap, Params: mustBundle(t, map[string]any{"allocation_domain": "continuous"})})
	if got := mustVariable(t, m, "x[rice,h2]").Kind; got != lpmodel.Continuous {
		t.Errorf("x[rice,h2] kind = %v, want %v", got, lpmodel.Continuous)
	}

	_, err := Build(&Spec{Domain: snap, Params: mustBundle(t, map[string]any{"allocation_domain": "fractional"})})
	if !errors.Is(err, ErrMalformedSpec) {
		t.Errorf("Build() with an unknown allocation domain returned %v, want %v", err, ErrMalformedSpec)
	}
}

func TestBuild_PurchasesDisabled(t *testing.T) {
	snap := mustSnapshot(t, testData())
	m := mustBuild(t, &Spec{
		Domain:      snap,
		Constraints: []ConstraintSpec{{Name: SupplyLimitName}},
	})
	if m.AllowPurchases {
		t.Errorf("AllowPurchases = true, want false")
	}
	for _, name := range []string{"y[rice]", "y[beans]", "y_active[rice]", "y_active[beans]"} {
		v := mustVariable(t, m, name)
		if v.Lower != 0 || v.Upper != 0 {
			t.Errorf("%s bounds = [%v, %v], want [0, 0]", name, v.Lower, v.Upper)
		}
	}

	// With every variable at its bound, available supply is the donated stock.
	sol := &lpmodel.Solution{Status: lpmodel.Feasible, Values: values(t, m, nil)}
	for _, i := range m.Substrate.Items {
		item, err := snap.Item(i)
		if err != nil {
			t.Fatalf("Item(%q) returned with unexpected error %v", i, err)
		}
		if got := lpmodel.SolutionValue(sol, m.Substrate.Available(i)); got != item.Stock {
			t.Errorf("Available(%s) = %v, want stock %v", i, got, item.Stock)
		}
	}
	if got, want := lpmodel.SolutionValue(sol, m.Substrate.TotalSupply()), snap.TotalStock(); got != want {
		t.Errorf("TotalSupply() = %v, want %v", got, want)
	}

	row := mustRow(t, m, "StockBalance[rice]")
	wantTerms := map[string]float64{"x[rice,h1]": 1, "x[rice,h2]": 1, "y[rice]": -1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms)); diff != "" {
		t.Errorf("StockBalance[rice] terms mismatch (-want +got):\n%s", diff)
	}
	if row.Upper != 10 || !math.IsInf(row.Lower, -1) {
		t.Errorf("StockBalance[rice] bounds = [%v, %v], want [-inf, 10]", row.Lower, row.Upper)
	}
}

func TestBuild_PurchaseBudget(t *testing.T) {
	snap := mustSnapshot(t, testData())
	m := mustBuild(t, &Spec{
		Domain: snap,
		Constraints: []ConstraintSpec{
			{Name: SupplyLimitName},
			{Name: PurchaseBudgetName, Params: mustBundle(t, map[string]any{"budget": 100})},
		},
	})
	if !m.AllowPurchases {
		t.Fatalf("AllowPurchases = false, want true when %q is requested", PurchaseBudgetName)
	}
	if v := mustVariable(t, m, "y[rice]"); !math.IsInf(v.Upper, 1) {
		t.Errorf("y[rice] upper = %v, want +inf", v.Upper)
	}

	budget := mustRow(t, m, "PurchaseBudget")
	if diff := cmp.Diff(map[string]float64{"y[rice]": 4}, termsByName(m, budget.Terms)); diff != "" {
		t.Errorf("PurchaseBudget terms mismatch (-want +got):\n%s", diff)
	}
	if budget.Upper != 100 {
		t.Errorf("PurchaseBudget upper = %v, want 100", budget.Upper)
	}

	act := mustRow(t, m, "PurchaseActivation[rice]")
	if diff := cmp.Diff(map[string]float64{"y[rice]": 1, "y_active[rice]": -25}, termsByName(m, act.Terms)); diff != "" {
		t.Errorf("PurchaseActivation[rice] terms mismatch (-want +got):\n%s", diff)
	}
	act = mustRow(t, m, "PurchaseActivation[beans]")
	if got := termsByName(m, act.Terms)["y_active[beans]"]; math.Abs(got+100/1e-9) > 1 {
		t.Errorf("PurchaseActivation[beans] y_active coefficient = %v, want %v", got, -100/1e-9)
	}

	// stock + y - sum_h x <= stock * (1 - y_active)
	noWaste := mustRow(t, m, "PurchaseNoWaste[rice]")
	wantTerms := map[string]float64{"x[rice,h1]": -1, "x[rice,h2]": -1, "y[rice]": 1, "y_active[rice]": 10}
	if diff := cmp.Diff(wantTerms, termsByName(m, noWaste.Terms)); diff != "" {
		t.Errorf("PurchaseNoWaste[rice] terms mismatch (-want +got):\n%s", diff)
	}
	if noWaste.Upper != 0 {
		t.Errorf("PurchaseNoWaste[rice] upper = %v, want 0", noWaste.Upper)
	}
	// An activated item must be fully allocated, an inactive one may keep its stock.
	active := values(t, m, map[string]float64{"y[rice]": 2, "y_active[rice]": 1, "x[rice,h1]": 6, "x[rice,h2]": 6})
	if got := noWaste.Activity(active); got > noWaste.Upper+1e-9 {
		t.Errorf("PurchaseNoWaste[rice] activity = %v with full allocation, want <= %v", got, noWaste.Upper)
	}
	active = values(t, m, map[string]float64{"y[rice]": 2, "y_active[rice]": 1, "x[rice,h1]": 6, "x[rice,h2]": 5})
	if got := noWaste.Activity(active); got <= noWaste.Upper {
		t.Errorf("PurchaseNoWaste[rice] activity = %v with 1 unit left, want > %v", got, noWaste.Upper)
	}
	inactive := values(t, m, map[string]float64{"x[rice,h1]": 1})
	if got := noWaste.Activity(inactive); got > noWaste.Upper {
		t.Errorf("PurchaseNoWaste[rice] activity = %v without purchase, want <= %v", got, noWaste.Upper)
	}
}

func TestBuild_PurchaseFlag(t *testing.T) {
	snap := mustSnapshot(t, testData())
	tests := []struct {
		name        string
		params      map[string]any
		constraints []ConstraintSpec
		want        bool
	}{
		{
			name:   "ExplicitTrue",
			params: map[string]any{"allow_purchases": true},
			want:   true,
		},
		{
			name:   "TruthyString",
			params: map[string]any{"allow_purchases": "yes"},
			want:   true,
		},
		{
			name:        "ExplicitFalseWins",
			params:      map[string]any{"allow_purchases": false, "budget": 10},
			constraints: []ConstraintSpec{{Name: PurchaseBudgetAlias}},
			want:        false,
		},
		{
			name:        "ImpliedByAlias",
			params:      map[string]any{"budget": 10},
			constraints: []ConstraintSpec{{Name: PurchaseBudgetAlias}},
			want:        true,
		},
		{
			name:   "AutoIsUnset",
			params: map[string]any{"allow_purchases": "auto"},
			want:   false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := mustBuild(t, &Spec{Domain: snap, Constraints: test.constraints, Params: mustBundle(t, test.params)})
			if m.AllowPurchases != test.want {
				t.Errorf("AllowPurchases = %v, want %v", m.AllowPurchases, test.want)
			}
			y := mustVariable(t, m, "y[beans]")
			if fixed := y.Upper == 0; fixed == test.want {
				t.Errorf("y[beans] upper = %v with purchases %v", y.Upper, test.want)
			}
		})
	}
}

func TestBuild_DeviationIdentity(t *testing.T) {
	m := mustBuild(t, &Spec{
		Domain:      mustSnapshot(t, testData()),
		Constraints: []ConstraintSpec{{Name: DeviationIdentityName}},
		Params:      mustBundle(t, map[string]any{"allow_purchases": true}),
	})
	row := mustRow(t, m, "DeviationIdentity[rice,h1]")
	wantTerms := map[string]float64{"x[rice,h1]": 1, "y[rice]": -0.6, "dpos[rice,h1]": -1, "dneg[rice,h1]": 1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms)); diff != "" {
		t.Errorf("DeviationIdentity[rice,h1] terms mismatch (-want +got):\n%s", diff)
	}
	if row.Lower != 6 || row.Upper != 6 {
		t.Errorf("DeviationIdentity[rice,h1] bounds = [%v, %v], want [6, 6]", row.Lower, row.Upper)
	}

	// x - w * available == dpos - dneg at an assignment satisfying the row.
	vals := values(t, m, map[string]float64{"x[rice,h1]": 9, "y[rice]": 5, "dpos[rice,h1]": 0, "dneg[rice,h1]": 0})
	sol := &lpmodel.Solution{Status: lpmodel.Feasible, Values: vals}
	x := lpmodel.SolutionValue(sol, m.Substrate.X("rice", "h1"))
	fair := 0.6 * lpmodel.SolutionValue(sol, m.Substrate.Available("rice"))
	dev := lpmodel.SolutionValue(sol, m.Substrate.Deviation("rice", "h1"))
	if got := row.Activity(vals); math.Abs(got-6) > 1e-9 {
		t.Errorf("DeviationIdentity[rice,h1] activity = %v, want 6", got)
	}
	if math.Abs(x-fair) > 1e-9 || dev != 0 {
		t.Errorf("x = %v, fair share = %v, deviation = %v; want x == fair share and no deviation", x, fair, dev)
	}
	rel := m.Substrate.PairRelativeDeviation("rice", "h1").Evaluate(sol)
	if rel != 0 {
		t.Errorf("PairRelativeDeviation(rice, h1) = %v, want 0", rel)
	}
}

func TestBuild_EquityCaps(t *testing.T) {
	snap := mustSnapshot(t, testData())
	scenario := mustBundle(t, map[string]any{
		"dials": map[string]any{
			"alpha":     0.9,
			"beta_h":    map[string]any{"h1": 0.5, "default": 0.25},
			"gamma_i_h": map[string]any{"rice": map[string]any{"h1": 0.5, "default": 0.25}, "default": 1},
		},
	})
	m := mustBuild(t, &Spec{
		Domain: snap,
		Constraints: []ConstraintSpec{
			{Name: DeviationIdentityName},
			{Name: ItemEquityCapName, Params: mustBundle(t, map[string]any{"alpha_i": map[string]any{"rice": 0.5}, "alpha": 0.75})},
			{Name: HouseholdEquityCapName},
			{Name: PairwiseEquityCapName},
			{Name: LegacyHouseholdCapName},
		},
		Params: scenario,
	})

	tests := []struct {
		row   string
		terms map[string]float64
		upper float64
	}{
		{
			// Local alpha_i wins over the scenario alpha.
			row:   "DeviationItemCap[rice]",
			terms: map[string]float64{"dpos[rice,h1]": 1, "dneg[rice,h1]": 1, "dpos[rice,h2]": 1, "dneg[rice,h2]": 1, "y[rice]": -0.5},
			upper: 5,
		},
		{
			// No local alpha_i entry for beans: the local alias alpha applies.
			row:   "DeviationItemCap[beans]",
			terms: map[string]float64{"dpos[beans,h1]": 1, "dneg[beans,h1]": 1, "dpos[beans,h2]": 1, "dneg[beans,h2]": 1, "y[beans]": -0.75},
			upper: 3.75,
		},
		{
			row: "DeviationHouseholdCap[h2]",
			terms: map[string]float64{
				"dpos[beans,h2]": 1, "dneg[beans,h2]": 1, "dpos[rice,h2]": 1, "dneg[rice,h2]": 1,
				"y[beans]": -0.1, "y[rice]": -0.1,
			},
			upper: 1.5,
		},
		{
			row:   "DeviationPairCap[rice,h1]",
			terms: map[string]float64{"dpos[rice,h1]": 1, "dneg[rice,h1]": 1, "y[rice]": -0.3},
			upper: 3,
		},
		{
			// Nested default of the first index.
			row:   "DeviationPairCap[rice,h2]",
			terms: map[string]float64{"dpos[rice,h2]": 1, "dneg[rice,h2]": 1, "y[rice]": -0.1},
			upper: 1,
		},
		{
			// Top-level default.
			row:   "DeviationPairCap[beans,h1]",
			terms: map[string]float64{"dpos[beans,h1]": 1, "dneg[beans,h1]": 1, "y[beans]": -0.6},
			upper: 3,
		},
		{
			// The legacy cap reads beta as a scalar: beta_h only has a default entry to offer.
			row: "FairCapHouse[h1]",
			terms: map[string]float64{
				"dpos[beans,h1]": 1, "dneg[beans,h1]": 1, "dpos[rice,h1]": 1, "dneg[rice,h1]": 1,
				"y[beans]": -0.15, "y[rice]": -0.15,
			},
			upper: 2.25,
		},
	}
	for _, test := range tests {
		row := mustRow(t, m, test.row)
		if diff := cmp.Diff(test.terms, termsByName(m, row.Terms), approx); diff != "" {
			t.Errorf("%s terms mismatch (-want +got):\n%s", test.row, diff)
		}
		if diff := cmp.Diff(test.upper, row.Upper, approx); diff != "" {
			t.Errorf("%s upper mismatch (-want +got):\n%s", test.row, diff)
		}
	}
}

func TestBuild_LegacyHouseholdCapDefault(t *testing.T) {
	m := mustBuild(t, &Spec{
		Domain:      mustSnapshot(t, testData()),
		Constraints: []ConstraintSpec{{Name: LegacyHouseholdCapName}},
	})
	row := mustRow(t, m, "FairCapHouse[h2]")
	// 0.7 * 0.4 * 15
	if diff := cmp.Diff(4.2, row.Upper, approx); diff != "" {
		t.Errorf("FairCapHouse[h2] upper mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_AdequacyFloors(t *testing.T) {
	snap := mustSnapshot(t, testData())
	m := mustBuild(t, &Spec{
		Domain: snap,
		Constraints: []ConstraintSpec{
			{Name: HouseholdFloorName, Params: mustBundle(t, map[string]any{"rho_h": 0.8})},
			{Name: NutrientFloorName, Params: mustBundle(t, map[string]any{"gamma": 0.5})},
			{Name: PairwiseFloorName, Params: mustBundle(t, map[string]any{"kappa": map[string]any{"protein": map[string]any{"h2": 0.9}}})},
		},
		Params: mustBundle(t, map[string]any{"lambda": 0}),
	})

	// u[protein,h1] - 0.8 * (u[protein,h1] + u[protein,h2]) / 2 + epsilon >= 0
	row := mustRow(t, m, "HouseholdFloor[h1]")
	wantTerms := map[string]float64{"u[protein,h1]": 0.6, "u[protein,h2]": -0.4, "epsilon": 1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms), approx); diff != "" {
		t.Errorf("HouseholdFloor[h1] terms mismatch (-want +got):\n%s", diff)
	}
	if row.Lower != 0 || !math.IsInf(row.Upper, 1) {
		t.Errorf("HouseholdFloor[h1] bounds = [%v, %v], want [0, +inf]", row.Lower, row.Upper)
	}

	// With a global mean utility of 0.5, household h1 needs a mean utility of 0.4 minus slack.
	tests := []struct {
		u1, eps  float64
		feasible bool
	}{
		{u1: 0.4, eps: 0, feasible: true},
		{u1: 0.5, eps: 0, feasible: true},
		{u1: 0.3, eps: 0, feasible: false},
		{u1: 0.3, eps: 0.1, feasible: true},
	}
	for _, test := range tests {
		vals := values(t, m, map[string]float64{"u[protein,h1]": test.u1, "u[protein,h2]": 1 - test.u1, "epsilon": test.eps})
		sol := &lpmodel.Solution{Status: lpmodel.Feasible, Values: vals}
		if got := lpmodel.SolutionValue(sol, m.Substrate.GlobalMeanUtility()); math.Abs(got-0.5) > 1e-9 {
			t.Fatalf("GlobalMeanUtility() = %v, want 0.5", got)
		}
		if got := row.Activity(vals) >= row.Lower-1e-9; got != test.feasible {
			t.Errorf("HouseholdFloor[h1] with u = %v, epsilon = %v: feasible = %v, want %v", test.u1, test.eps, got, test.feasible)
		}
	}

	// The alias gamma resolves kappa_n; the pairwise floor finds kappa through its alias.
	row = mustRow(t, m, "NutrientFloor[protein]")
	wantTerms = map[string]float64{"u[protein,h1]": 0.25, "u[protein,h2]": 0.25, "epsilon": 1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms), approx); diff != "" {
		t.Errorf("NutrientFloor[protein] terms mismatch (-want +got):\n%s", diff)
	}
	row = mustRow(t, m, "PairFloor[protein,h2]")
	wantTerms = map[string]float64{"u[protein,h1]": -0.45, "u[protein,h2]": 0.55, "epsilon": 1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms), approx); diff != "" {
		t.Errorf("PairFloor[protein,h2] terms mismatch (-want +got):\n%s", diff)
	}
	// No entry for h1 and no default: the floor falls back to 0.
	row = mustRow(t, m, "PairFloor[protein,h1]")
	wantTerms = map[string]float64{"u[protein,h1]": 1, "epsilon": 1}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms), approx); diff != "" {
		t.Errorf("PairFloor[protein,h1] terms mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Slack(t *testing.T) {
	snap := mustSnapshot(t, testData())
	tests := []struct {
		name     string
		local    map[string]any
		scenario map[string]any
		want     bool
	}{
		{name: "Default", want: false},
		{name: "ZeroLambdaEnables", scenario: map[string]any{"lambda": 0}, want: true},
		{name: "LocalLambdaAlias", local: map[string]any{"lam": 2}, want: true},
		{name: "ExplicitFalseWins", scenario: map[string]any{"lambda": 5, "use_slack": false}, want: false},
		{name: "AutoIsUnset", scenario: map[string]any{"lambda_": 0, "use_slack": "auto"}, want: true},
		{name: "LocalFlagWins", local: map[string]any{"use_slack": "on"}, scenario: map[string]any{"use_slack": false}, want: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := mustBuild(t, &Spec{
				Domain:      snap,
				Constraints: []ConstraintSpec{{Name: NutrientFloorName, Params: mustBundle(t, test.local)}},
				Params:      mustBundle(t, test.scenario),
			})
			_, got := termsByName(m, mustRow(t, m, "NutrientFloor[protein]").Terms)["epsilon"]
			if got != test.want {
				t.Errorf("epsilon in NutrientFloor[protein] = %v, want %v", got, test.want)
			}
		})
	}
}

func TestBuild_Objectives(t *testing.T) {
	snap := mustSnapshot(t, testData())
	tests := []struct {
		name         string
		objectives   []ObjectiveSpec
		params       map[string]any
		wantTerms    map[string]float64
		wantMaximize bool
	}{
		{
			name:         "SumUtilityWithPenalty",
			objectives:   []ObjectiveSpec{{Name: SumUtilityName, Params: mustBundle(t, map[string]any{"weight": 3})}},
			params:       map[string]any{"lambda": 2},
			wantTerms:    map[string]float64{"u[protein,h1]": 3, "u[protein,h2]": 3, "epsilon": -2},
			wantMaximize: true,
		},
		{
			name:         "ZeroPenalty",
			objectives:   []ObjectiveSpec{{Name: SumUtilityName, Sense: " MAXIMIZE "}},
			params:       map[string]any{"lambda": 0},
			wantTerms:    map[string]float64{"u[protein,h1]": 1, "u[protein,h2]": 1},
			wantMaximize: true,
		},
		{
			name: "OnlyFirstApplies",
			objectives: []ObjectiveSpec{
				{Name: TotalAllocationName, Sense: "minimize"},
				{Name: SumUtilityName},
			},
			wantTerms: map[string]float64{
				"x[beans,h1]": 1, "x[beans,h2]": 1, "x[rice,h1]": 1, "x[rice,h2]": 1,
			},
			wantMaximize: false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := mustBuild(t, &Spec{Domain: snap, Objectives: test.objectives, Params: mustBundle(t, test.params)})
			if diff := cmp.Diff(test.wantTerms, termsByName(m, m.LP.Objective.Terms)); diff != "" {
				t.Errorf("objective terms mismatch (-want +got):\n%s", diff)
			}
			if m.LP.Objective.Maximize != test.wantMaximize {
				t.Errorf("objective maximize = %v, want %v", m.LP.Objective.Maximize, test.wantMaximize)
			}
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	snap := mustSnapshot(t, testData())
	bounded := testData()
	bounded.Bounds = []domain.AllocationBounds{
		{ItemID: "rice", HouseholdID: "h1", Lower: 8},
		{ItemID: "rice", HouseholdID: "h2", Lower: 5},
	}
	boundedSnap := mustSnapshot(t, bounded)
	strict := map[string]any{"strictness": "strict"}

	tests := []struct {
		name string
		spec *Spec
		want error
	}{
		{
			name: "UnknownConstraint",
			spec: &Spec{Domain: snap, Constraints: []ConstraintSpec{{Name: "no_such_constraint"}}},
			want: ErrUnknownProcedure,
		},
		{
			name: "UnknownObjective",
			spec: &Spec{Domain: snap, Objectives: []ObjectiveSpec{{Name: "no_such_objective"}}},
			want: ErrUnknownProcedure,
		},
		{
			name: "MissingConstraintName",
			spec: &Spec{Domain: snap, Constraints: []ConstraintSpec{{Name: " "}}},
			want: ErrMissingName,
		},
		{
			name: "MissingBudget",
			spec: &Spec{Domain: snap, Constraints: []ConstraintSpec{{Name: PurchaseBudgetName}}},
			want: ErrMissingBudget,
		},
		{
			name: "InvalidSense",
			spec: &Spec{Domain: snap, Objectives: []ObjectiveSpec{{Name: SumUtilityName, Sense: "upwards"}}},
			want: ErrInvalidSense,
		},
		{
			name: "MissingDial",
			spec: &Spec{Domain: snap, Constraints: []ConstraintSpec{{Name: ItemEquityCapName}}},
			want: dial.ErrNotFound,
		},
		{
			name: "PartialDial",
			spec: &Spec{
				Domain:      snap,
				Constraints: []ConstraintSpec{{Name: PairwiseEquityCapName}},
				Params:      mustBundle(t, map[string]any{"dials": map[string]any{"gamma_i_h": map[string]any{"rice": 0.5}}}),
			},
			want: dial.ErrNotFound,
		},
		{
			name: "MalformedDial",
			spec: &Spec{
				Domain:      snap,
				Constraints: []ConstraintSpec{{Name: HouseholdFloorName, Params: mustBundle(t, map[string]any{"rho_h": true})}},
			},
			want: dial.ErrMalformed,
		},
		{
			name: "MalformedSlackFlag",
			spec: &Spec{
				Domain:      snap,
				Constraints: []ConstraintSpec{{Name: HouseholdFloorName}},
				Params:      mustBundle(t, map[string]any{"use_slack": "sometimes"}),
			},
			want: dial.ErrMalformed,
		},
		{
			name: "StrictInfeasibleBounds",
			spec: &Spec{Domain: boundedSnap, Params: mustBundle(t, strict)},
			want: ErrInfeasibleBounds,
		},
		{
			name: "NoDomain",
			spec: &Spec{Name: "empty"},
			want: ErrMalformedSpec,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := Build(test.spec)
			if !errors.Is(err, test.want) {
				t.Errorf("Build() returned with error %v, want %v", err, test.want)
			}
			if m != nil {
				t.Errorf("Build() returned a model along with error %v", err)
			}
		})
	}
}

func TestBuild_Strictness(t *testing.T) {
	bounded := testData()
	bounded.Bounds = []domain.AllocationBounds{
		{ItemID: "rice", HouseholdID: "h1", Lower: 8},
		{ItemID: "rice", HouseholdID: "h2", Lower: 5},
	}
	snap := mustSnapshot(t, bounded)

	// Lenient builds leave infeasibility to the solver.
	mustBuild(t, &Spec{Domain: snap})
	// Purchases can make up for the missing stock: 10 + 100/4 >= 13.
	mustBuild(t, &Spec{
		Domain:      snap,
		Constraints: []ConstraintSpec{{Name: PurchaseBudgetName}},
		Params:      mustBundle(t, map[string]any{"strictness": "strict", "budget": 100}),
	})
	// 10 + 2/4 < 13
	_, err := Build(&Spec{
		Domain:      snap,
		Constraints: []ConstraintSpec{{Name: PurchaseBudgetName, Params: mustBundle(t, map[string]any{"budget": 2})}},
		Params:      mustBundle(t, map[string]any{"strictness": "strict"}),
	})
	if !errors.Is(err, ErrInfeasibleBounds) {
		t.Errorf("Build() with a small budget returned %v, want %v", err, ErrInfeasibleBounds)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	snap := mustSnapshot(t, testData())
	spec := func(alpha float64) *Spec {
		return &Spec{
			Name:   "idempotent",
			Domain: snap,
			Constraints: []ConstraintSpec{
				{Name: UtilityLinkName},
				{Name: SupplyLimitName},
				{Name: PurchaseBudgetName},
				{Name: DeviationIdentityName},
				{Name: ItemEquityCapName, Params: mustBundle(t, map[string]any{"alpha": alpha})},
				{Name: HouseholdFloorName},
			},
			Params: mustBundle(t, map[string]any{"budget": 50, "lambda": 1, "dials": map[string]any{"rho_h": 0.5}}),
		}
	}
	m1 := mustBuild(t, spec(0.5))
	m2 := mustBuild(t, spec(0.5))
	if diff := cmp.Diff(m1.LP, m2.LP); diff != "" {
		t.Errorf("models built from the same spec differ (-first +second):\n%s", diff)
	}
	if m1.Fingerprint != m2.Fingerprint {
		t.Errorf("fingerprints differ: %v != %v", m1.Fingerprint, m2.Fingerprint)
	}
	if diff := cmp.Diff(m1.Families, m2.Families); diff != "" {
		t.Errorf("applied families differ (-first +second):\n%s", diff)
	}
	if m3 := mustBuild(t, spec(0.25)); m3.Fingerprint == m1.Fingerprint {
		t.Errorf("models with different dials share fingerprint %v", m1.Fingerprint)
	}

	wantFamilies := []Applied{
		{Name: UtilityLinkName, Rows: 2},
		{Name: SupplyLimitName, Rows: 2},
		{Name: PurchaseBudgetName, Rows: 5},
		{Name: DeviationIdentityName, Rows: 4},
		{Name: ItemEquityCapName, Rows: 2},
		{Name: HouseholdFloorName, Rows: 2},
	}
	if diff := cmp.Diff(wantFamilies, m1.Families); diff != "" {
		t.Errorf("Families mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_UtilityLink(t *testing.T) {
	snap := mustSnapshot(t, testData())
	m := mustBuild(t, &Spec{Domain: snap, Constraints: []ConstraintSpec{{Name: UtilityLinkName}}})
	row := mustRow(t, m, "U_link[protein,h2]")
	// 10 u <= 3 x[beans,h2] + 2 x[rice,h2]
	wantTerms := map[string]float64{"u[protein,h2]": 10, "x[beans,h2]": -3, "x[rice,h2]": -2}
	if diff := cmp.Diff(wantTerms, termsByName(m, row.Terms)); diff != "" {
		t.Errorf("U_link[protein,h2] terms mismatch (-want +got):\n%s", diff)
	}

	// A nutrient nobody requires gets the 1e-9 floor.
	d := testData()
	d.Nutrients = append(d.Nutrients, domain.Nutrient{ID: "iron", Name: "Iron"})
	m = mustBuild(t, &Spec{Domain: mustSnapshot(t, d), Constraints: []ConstraintSpec{{Name: UtilityLinkName}}})
	row = mustRow(t, m, "U_link[iron,h1]")
	if diff := cmp.Diff(map[string]float64{"u[iron,h1]": MinRequirement}, termsByName(m, row.Terms)); diff != "" {
		t.Errorf("U_link[iron,h1] terms mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigBundle(t *testing.T) {
	cfg, err := structpb.NewStruct(map[string]any{
		"model": map[string]any{
			"constraints": []any{
				map[string]any{"type": SupplyLimitName},
				map[string]any{"id": ItemEquityCapName, "params": map[string]any{"alpha": 0.5}},
			},
			"objectives": []any{
				map[string]any{"name": TotalAllocationName, "sense": "minimize"},
			},
		},
		"model_params": map[string]any{"allocation_domain": "continuous"},
	})
	if err != nil {
		t.Fatalf("NewStruct() returned with unexpected error %v", err)
	}
	src := ConfigBundle{Name: "config", Domain: mustSnapshot(t, testData()), Config: cfg}
	spec, err := src.ModelSpec()
	if err != nil {
		t.Fatalf("ModelSpec() returned with unexpected error %v", err)
	}
	var names []string
	for _, c := range spec.Constraints {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff([]string{SupplyLimitName, ItemEquityCapName}, names); diff != "" {
		t.Errorf("constraint names mismatch (-want +got):\n%s", diff)
	}
	if got := spec.Objectives; len(got) != 1 || got[0].Name != TotalAllocationName || got[0].Sense != "minimize" {
		t.Errorf("objectives = %v, want one minimized %q", got, TotalAllocationName)
	}

	m := mustBuild(t, src)
	if m.LP.Objective.Maximize {
		t.Errorf("objective maximize = true, want false")
	}
	if got := mustVariable(t, m, "x[rice,h2]").Kind; got != lpmodel.Continuous {
		t.Errorf("x[rice,h2] kind = %v, want %v", got, lpmodel.Continuous)
	}

	bad, err := structpb.NewStruct(map[string]any{"constraints": []any{map[string]any{"params": map[string]any{}}}})
	if err != nil {
		t.Fatalf("NewStruct() returned with unexpected error %v", err)
	}
	if _, err := Build(ConfigBundle{Domain: src.Domain, Config: bad}); !errors.Is(err, ErrMissingName) {
		t.Errorf("Build() with an unnamed constraint returned %v, want %v", err, ErrMissingName)
	}
	bad, err = structpb.NewStruct(map[string]any{"constraints": "item_supply_limit"})
	if err != nil {
		t.Fatalf("NewStruct() returned with unexpected error %v", err)
	}
	if _, err := Build(ConfigBundle{Domain: src.Domain, Config: bad}); !errors.Is(err, ErrMalformedSpec) {
		t.Errorf("Build() with a scalar constraint list returned %v, want %v", err, ErrMalformedSpec)
	}
}

func TestCatalog(t *testing.T) {
	names := ConstraintNames()
	for _, want := range []string{UtilityLinkName, SupplyLimitName, PurchaseBudgetName, PurchaseBudgetAlias,
		DeviationIdentityName, ItemEquityCapName, HouseholdEquityCapName, PairwiseEquityCapName,
		LegacyHouseholdCapName, HouseholdFloorName, NutrientFloorName, PairwiseFloorName} {
		if !contains(names, want) {
			t.Errorf("ConstraintNames() = %v, missing %q", names, want)
		}
	}
	if diff := cmp.Diff([]string{SumUtilityName, TotalAllocationName}, ObjectiveNames()); diff != "" {
		t.Errorf("ObjectiveNames() mismatch (-want +got):\n%s", diff)
	}

	noop := func(*Substrate, Params) error { return nil }
	if err := RegisterConstraint("late_constraint", noop); !errors.Is(err, ErrCatalogSealed) {
		t.Errorf("RegisterConstraint() after lookup returned %v, want %v", err, ErrCatalogSealed)
	}

	c := newCatalog(ConstraintProcedure)
	if err := c.register("once", ConstraintFunc(noop)); err != nil {
		t.Fatalf("register() returned with unexpected error %v", err)
	}
	if err := c.register("once", ConstraintFunc(noop)); !errors.Is(err, ErrDuplicateProcedure) {
		t.Errorf("register() of a duplicate returned %v, want %v", err, ErrDuplicateProcedure)
	}
	if err := c.register("", ConstraintFunc(noop)); !errors.Is(err, ErrMissingName) {
		t.Errorf("register() without a name returned %v, want %v", err, ErrMissingName)
	}
	if _, err := c.lookup("missing"); !errors.Is(err, ErrUnknownProcedure) {
		t.Errorf("lookup() of a missing name returned %v, want %v", err, ErrUnknownProcedure)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
