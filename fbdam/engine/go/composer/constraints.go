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
	"math"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// Registered constraint procedure names.
const (
	UtilityLinkName          = "nutrition_utility_mapping"
	SupplyLimitName          = "item_supply_limit"
	PurchaseBudgetName       = "purchase_budget_limit"
	PurchaseBudgetAlias      = "purchase_budget"
	DeviationIdentityName    = "fairshare_deviation_identity"
	ItemEquityCapName        = "item_equity_aggregate_cap"
	HouseholdEquityCapName   = "household_equity_aggregate_cap"
	PairwiseEquityCapName    = "pairwise_equity_cap"
	LegacyHouseholdCapName   = "fairshare_cap_house"
	HouseholdFloorName       = "household_adequacy_floor"
	NutrientFloorName        = "nutrient_adequacy_floor"
	PairwiseFloorName        = "pairwise_adequacy_floor"
	legacyHouseholdCapBeta   = 0.7
	costFloor                = 1e-9
	purchaseFamilyBudget     = "PurchaseBudget"
	purchaseFamilyActivation = "PurchaseActivation"
	purchaseFamilyNoWaste    = "PurchaseNoWaste"
)

// Dial names in resolution order: the canonical name first, then its legacy aliases.
var (
	itemCapDials        = []string{"alpha_i", "alpha"}
	householdCapDials   = []string{"beta_h", "beta"}
	pairCapDials        = []string{"gamma_i_h", "rho", "gamma"}
	householdFloorDials = []string{"rho_h", "omega"}
	nutrientFloorDials  = []string{"kappa_n", "gamma"}
	pairFloorDials      = []string{"omega_n_h", "kappa"}
)

func init() {
	mustRegister(RegisterConstraint(UtilityLinkName, addUtilityLink))
	mustRegister(RegisterConstraint(SupplyLimitName, addSupplyLimit))
	mustRegister(RegisterConstraint(PurchaseBudgetName, addPurchaseBudget))
	mustRegister(RegisterConstraint(PurchaseBudgetAlias, addPurchaseBudget))
	mustRegister(RegisterConstraint(DeviationIdentityName, addDeviationIdentity))
	mustRegister(RegisterConstraint(ItemEquityCapName, addItemEquityCap))
	mustRegister(RegisterConstraint(HouseholdEquityCapName, addHouseholdEquityCap))
	mustRegister(RegisterConstraint(PairwiseEquityCapName, addPairwiseEquityCap))
	mustRegister(RegisterConstraint(LegacyHouseholdCapName, addLegacyHouseholdCap))
	mustRegister(RegisterConstraint(HouseholdFloorName, addHouseholdFloor))
	mustRegister(RegisterConstraint(NutrientFloorName, addNutrientFloor))
	mustRegister(RegisterConstraint(PairwiseFloorName, addPairwiseFloor))
}

// BigM returns the activation bound of a purchase variable: the largest quantity the budget
// can buy at `cost`, with the cost floored at 1e-9. It is 0 for a non-positive budget.
func BigM(budget, cost float64) float64 {
	if budget <= 0 {
		return 0
	}
	return budget / math.Max(cost, costFloor)
}

// u[n,h] * R[h,n] <= delivered[n,h].
func addUtilityLink(s *Substrate, _ Params) error {
	b := s.Builder()
	for _, n := range s.Nutrients {
		for _, h := range s.Households {
			lhs := lpmodel.NewLinearExpr().AddTerm(s.U(n, h), s.Requirement(h, n))
			b.AddLessOrEqual(lhs, s.Delivered(n, h)).WithName(fmt.Sprintf("U_link[%s,%s]", n, h))
		}
	}
	return b.Err()
}

func addSupplyLimit(s *Substrate, _ Params) error {
	b := s.Builder()
	for _, i := range s.Items {
		b.AddLessOrEqual(s.ItemTotal(i), s.Available(i)).WithName(fmt.Sprintf("StockBalance[%s]", i))
	}
	return b.Err()
}

// addPurchaseBudget adds the budget row, the big-M activation rows and the no-waste rows.
func addPurchaseBudget(s *Substrate, p Params) error {
	budget, err := p.Budget()
	if err != nil {
		return err
	}
	b := s.Builder()
	b.AddLessOrEqual(s.TotalCost(), lpmodel.NewConstant(budget)).WithName(purchaseFamilyBudget)
	for _, i := range s.Items {
		m := BigM(budget, s.Cost(i))
		rhs := lpmodel.NewLinearExpr().AddTerm(s.YActive(i), m)
		b.AddLessOrEqual(s.Y(i), rhs).WithName(fmt.Sprintf("%s[%s]", purchaseFamilyActivation, i))
	}
	for _, i := range s.Items {
		// stock + y - sum_h x <= stock * (1 - y_active)
		lhs := s.Available(i).AddTerm(s.ItemTotal(i), -1)
		rhs := lpmodel.NewConstant(s.Stock(i)).AddTerm(s.YActive(i), -s.Stock(i))
		b.AddLessOrEqual(lhs, rhs).WithName(fmt.Sprintf("%s[%s]", purchaseFamilyNoWaste, i))
	}
	return b.Err()
}

// x[i,h] - w[h] * available[i] == dpos[i,h] - dneg[i,h].
func addDeviationIdentity(s *Substrate, _ Params) error {
	b := s.Builder()
	for _, i := range s.Items {
		for _, h := range s.Households {
			lhs := lpmodel.NewLinearExpr().Add(s.X(i, h)).AddTerm(s.Available(i), -s.Weight(h))
			rhs := lpmodel.NewLinearExpr().Add(s.DPos(i, h)).AddTerm(s.DNeg(i, h), -1)
			b.AddEquality(lhs, rhs).WithName(fmt.Sprintf("DeviationIdentity[%s,%s]", i, h))
		}
	}
	return b.Err()
}

func addItemEquityCap(s *Substrate, p Params) error {
	b := s.Builder()
	for _, i := range s.Items {
		alpha, err := p.Dials.Resolve(itemCapDials, dial.Key(i), dial.Required)
		if err != nil {
			return err
		}
		rhs := lpmodel.NewLinearExpr().AddTerm(s.Available(i), alpha)
		b.AddLessOrEqual(s.ItemDeviation(i), rhs).WithName(fmt.Sprintf("DeviationItemCap[%s]", i))
	}
	return b.Err()
}

func addHouseholdEquityCap(s *Substrate, p Params) error {
	b := s.Builder()
	for _, h := range s.Households {
		beta, err := p.Dials.Resolve(householdCapDials, dial.Key(h), dial.Required)
		if err != nil {
			return err
		}
		rhs := lpmodel.NewLinearExpr().AddTerm(s.TotalSupply(), beta*s.Weight(h))
		b.AddLessOrEqual(s.HouseholdDeviation(h), rhs).WithName(fmt.Sprintf("DeviationHouseholdCap[%s]", h))
	}
	return b.Err()
}

func addPairwiseEquityCap(s *Substrate, p Params) error {
	b := s.Builder()
	for _, i := range s.Items {
		for _, h := range s.Households {
			gamma, err := p.Dials.Resolve(pairCapDials, dial.Pair(i, h), dial.Required)
			if err != nil {
				return err
			}
			rhs := lpmodel.NewLinearExpr().AddTerm(s.Available(i), gamma*s.Weight(h))
			b.AddLessOrEqual(s.Deviation(i, h), rhs).WithName(fmt.Sprintf("DeviationPairCap[%s,%s]", i, h))
		}
	}
	return b.Err()
}

// addLegacyHouseholdCap uses a single beta for every household.
func addLegacyHouseholdCap(s *Substrate, p Params) error {
	beta, err := p.Dials.Resolve(householdCapDials, nil, dial.Default(legacyHouseholdCapBeta))
	if err != nil {
		return err
	}
	b := s.Builder()
	for _, h := range s.Households {
		rhs := lpmodel.NewLinearExpr().AddTerm(s.TotalSupply(), beta*s.Weight(h))
		b.AddLessOrEqual(s.HouseholdDeviation(h), rhs).WithName(fmt.Sprintf("FairCapHouse[%s]", h))
	}
	return b.Err()
}

// floorRHS returns `coef * globalMeanUtility - epsilon`, without the slack term when slack is
// off.
func floorRHS(s *Substrate, coef float64, slack bool) *lpmodel.LinearExpr {
	rhs := lpmodel.NewLinearExpr().AddTerm(s.GlobalMeanUtility(), coef)
	if slack {
		rhs.AddTerm(s.Epsilon(), -1)
	}
	return rhs
}

func addHouseholdFloor(s *Substrate, p Params) error {
	slack, err := p.UseSlack()
	if err != nil {
		return err
	}
	b := s.Builder()
	for _, h := range s.Households {
		rho, err := p.Dials.Resolve(householdFloorDials, dial.Key(h), dial.Default(0))
		if err != nil {
			return err
		}
		b.AddGreaterOrEqual(s.HouseholdMeanUtility(h), floorRHS(s, rho, slack)).WithName(fmt.Sprintf("HouseholdFloor[%s]", h))
	}
	return b.Err()
}

func addNutrientFloor(s *Substrate, p Params) error {
	slack, err := p.UseSlack()
	if err != nil {
		return err
	}
	b := s.Builder()
	for _, n := range s.Nutrients {
		kappa, err := p.Dials.Resolve(nutrientFloorDials, dial.Key(n), dial.Default(0))
		if err != nil {
			return err
		}
		b.AddGreaterOrEqual(s.NutrientMeanUtility(n), floorRHS(s, kappa, slack)).WithName(fmt.Sprintf("NutrientFloor[%s]", n))
	}
	return b.Err()
}

func addPairwiseFloor(s *Substrate, p Params) error {
	slack, err := p.UseSlack()
	if err != nil {
		return err
	}
	b := s.Builder()
	for _, n := range s.Nutrients {
		for _, h := range s.Households {
			omega, err := p.Dials.Resolve(pairFloorDials, dial.Pair(n, h), dial.Default(0))
			if err != nil {
				return err
			}
			b.AddGreaterOrEqual(s.U(n, h), floorRHS(s, omega, slack)).WithName(fmt.Sprintf("PairFloor[%s,%s]", n, h))
		}
	}
	return b.Err()
}
