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

	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// MinRequirement is the floor applied to nutrient requirements so that utility ratios are
// always defined.
const MinRequirement = 1e-9

type key struct {
	a, b string
}

// Substrate holds the index sets, parameters and decision variables shared by every constraint
// and objective procedure of a build. Derived expressions are methods that build a new
// LinearExpr on every call.
type Substrate struct {
	b *lpmodel.Builder

	// Items, Nutrients and Households are the sorted index sets I, N and H.
	Items      []string
	Nutrients  []string
	Households []string

	allowPurchases bool

	stock       map[string]float64
	cost        map[string]float64
	weight      map[string]float64
	content     map[key]float64
	requirement map[key]float64

	x       map[key]lpmodel.Var
	u       map[key]lpmodel.Var
	y       map[string]lpmodel.Var
	yActive map[string]lpmodel.Var
	dpos    map[key]lpmodel.Var
	dneg    map[key]lpmodel.Var
	epsilon lpmodel.Var
}

// newSubstrate declares the sets, parameters and variables of the model on `b`. `allocKind`
// is the integrality of the allocation variables.
func newSubstrate(b *lpmodel.Builder, snap *domain.Snapshot, allowPurchases bool, allocKind lpmodel.VarKind) (*Substrate, error) {
	s := &Substrate{
		b:              b,
		Items:          snap.ItemIDs(),
		Nutrients:      snap.NutrientIDs(),
		Households:     snap.HouseholdIDs(),
		allowPurchases: allowPurchases,
		stock:          make(map[string]float64),
		cost:           make(map[string]float64),
		weight:         make(map[string]float64),
		content:        make(map[key]float64),
		requirement:    make(map[key]float64),
		x:              make(map[key]lpmodel.Var),
		u:              make(map[key]lpmodel.Var),
		y:              make(map[string]lpmodel.Var),
		yActive:        make(map[string]lpmodel.Var),
		dpos:           make(map[key]lpmodel.Var),
		dneg:           make(map[key]lpmodel.Var),
	}

	for _, i := range s.Items {
		it, err := snap.Item(i)
		if err != nil {
			return nil, err
		}
		s.stock[i] = it.Stock
		s.cost[i] = it.Cost
		for _, n := range s.Nutrients {
			if in, ok := snap.ItemNutrient(i, n); ok {
				s.content[key{i, n}] = in.QtyPerUnit
			}
		}
	}
	for _, h := range s.Households {
		hh, err := snap.Household(h)
		if err != nil {
			return nil, err
		}
		s.weight[h] = hh.FairShareWeight
		for _, n := range s.Nutrients {
			r := MinRequirement
			if req, ok := snap.Requirement(h, n); ok {
				r = math.Max(req.Amount, MinRequirement)
			}
			s.requirement[key{h, n}] = r
		}
	}

	for _, i := range s.Items {
		for _, h := range s.Households {
			lb, ub := 0.0, math.Inf(1)
			if bounds, ok := snap.Bounds(i, h); ok {
				lb, ub = bounds.Lower, bounds.UpperOrInf()
			}
			s.x[key{i, h}] = b.NewVar(lb, ub, allocKind, fmt.Sprintf("x[%s,%s]", i, h))
		}
	}
	for _, n := range s.Nutrients {
		for _, h := range s.Households {
			s.u[key{n, h}] = b.NewContinuousVar(0, 1, fmt.Sprintf("u[%s,%s]", n, h))
		}
	}
	for _, i := range s.Items {
		y := b.NewContinuousVar(0, math.Inf(1), fmt.Sprintf("y[%s]", i))
		active := b.NewBoolVar(fmt.Sprintf("y_active[%s]", i))
		if !allowPurchases {
			y.Fix(0)
			active.Fix(0)
		}
		s.y[i] = y
		s.yActive[i] = active
	}
	for _, i := range s.Items {
		for _, h := range s.Households {
			s.dpos[key{i, h}] = b.NewContinuousVar(0, math.Inf(1), fmt.Sprintf("dpos[%s,%s]", i, h))
			s.dneg[key{i, h}] = b.NewContinuousVar(0, math.Inf(1), fmt.Sprintf("dneg[%s,%s]", i, h))
		}
	}
	s.epsilon = b.NewContinuousVar(0, math.Inf(1), "epsilon")

	return s, b.Err()
}

// Builder returns the model builder the substrate variables belong to, for procedures that
// add their own rows.
func (s *Substrate) Builder() *lpmodel.Builder {
	return s.b
}

// AllowPurchases returns true if purchase variables are free to take positive values.
func (s *Substrate) AllowPurchases() bool {
	return s.allowPurchases
}

// Stock returns the donated stock of item `i`.
func (s *Substrate) Stock(i string) float64 { return s.stock[i] }

// Cost returns the unit purchase cost of item `i`.
func (s *Substrate) Cost(i string) float64 { return s.cost[i] }

// Weight returns the fair-share weight of household `h`.
func (s *Substrate) Weight(h string) float64 { return s.weight[h] }

// Content returns the quantity of nutrient `n` per unit of item `i`, 0 when not declared.
func (s *Substrate) Content(i, n string) float64 { return s.content[key{i, n}] }

// Requirement returns the requirement of household `h` for nutrient `n`, floored at
// MinRequirement.
func (s *Substrate) Requirement(h, n string) float64 {
	if r, ok := s.requirement[key{h, n}]; ok {
		return r
	}
	return MinRequirement
}

// X returns the allocation variable of item `i` to household `h`.
func (s *Substrate) X(i, h string) lpmodel.Var { return s.x[key{i, h}] }

// U returns the normalized utility variable of nutrient `n` for household `h`.
func (s *Substrate) U(n, h string) lpmodel.Var { return s.u[key{n, h}] }

// Y returns the purchase quantity variable of item `i`.
func (s *Substrate) Y(i string) lpmodel.Var { return s.y[i] }

// YActive returns the purchase activation indicator of item `i`.
func (s *Substrate) YActive(i string) lpmodel.Var { return s.yActive[i] }

// DPos returns the positive deviation part of the pair `(i, h)`.
func (s *Substrate) DPos(i, h string) lpmodel.Var { return s.dpos[key{i, h}] }

// DNeg returns the negative deviation part of the pair `(i, h)`.
func (s *Substrate) DNeg(i, h string) lpmodel.Var { return s.dneg[key{i, h}] }

// Epsilon returns the global slack variable.
func (s *Substrate) Epsilon() lpmodel.Var { return s.epsilon }

func meanOf(sum *lpmodel.LinearExpr, count int) *lpmodel.LinearExpr {
	if count == 0 {
		return lpmodel.NewLinearExpr()
	}
	return lpmodel.NewLinearExpr().AddTerm(sum, 1/float64(count))
}

// Available returns `stock(i) + y(i)`.
func (s *Substrate) Available(i string) *lpmodel.LinearExpr {
	return lpmodel.NewConstant(s.stock[i]).Add(s.y[i])
}

// TotalSupply returns the sum of Available over all items.
func (s *Substrate) TotalSupply() *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		e.Add(s.Available(i))
	}
	return e
}

// Delivered returns the quantity of nutrient `n` delivered to household `h`.
func (s *Substrate) Delivered(n, h string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		if a := s.content[key{i, n}]; a != 0 {
			e.AddTerm(s.x[key{i, h}], a)
		}
	}
	return e
}

// ItemTotal returns the quantity of item `i` allocated over all households.
func (s *Substrate) ItemTotal(i string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, h := range s.Households {
		e.Add(s.x[key{i, h}])
	}
	return e
}

// HouseholdTotal returns the quantity of all items allocated to household `h`.
func (s *Substrate) HouseholdTotal(h string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		e.Add(s.x[key{i, h}])
	}
	return e
}

// TotalAllocated returns the sum of all allocation variables.
func (s *Substrate) TotalAllocated() *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		e.Add(s.ItemTotal(i))
	}
	return e
}

// MeanAllocated returns TotalAllocated divided by the number of (item, household) pairs.
func (s *Substrate) MeanAllocated() *lpmodel.LinearExpr {
	return meanOf(s.TotalAllocated(), len(s.Items)*len(s.Households))
}

// Undistributed returns TotalSupply minus TotalAllocated.
func (s *Substrate) Undistributed() *lpmodel.LinearExpr {
	return s.TotalSupply().AddTerm(s.TotalAllocated(), -1)
}

// TotalCost returns the purchase spending `sum(cost(i) * y(i))`.
func (s *Substrate) TotalCost() *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		if c := s.cost[i]; c != 0 {
			e.AddTerm(s.y[i], c)
		}
	}
	return e
}

// TotalUtility returns the sum of all utility variables.
func (s *Substrate) TotalUtility() *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, n := range s.Nutrients {
		for _, h := range s.Households {
			e.Add(s.u[key{n, h}])
		}
	}
	return e
}

// HouseholdMeanUtility returns the mean utility of household `h` over nutrients.
func (s *Substrate) HouseholdMeanUtility(h string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, n := range s.Nutrients {
		e.Add(s.u[key{n, h}])
	}
	return meanOf(e, len(s.Nutrients))
}

// NutrientMeanUtility returns the mean utility of nutrient `n` over households.
func (s *Substrate) NutrientMeanUtility(n string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, h := range s.Households {
		e.Add(s.u[key{n, h}])
	}
	return meanOf(e, len(s.Households))
}

// GlobalMeanUtility returns the mean of all utility variables, 0 when either set is empty.
func (s *Substrate) GlobalMeanUtility() *lpmodel.LinearExpr {
	return meanOf(s.TotalUtility(), len(s.Nutrients)*len(s.Households))
}

// Deviation returns `dpos(i,h) + dneg(i,h)`.
func (s *Substrate) Deviation(i, h string) *lpmodel.LinearExpr {
	return lpmodel.NewLinearExpr().AddSum(s.dpos[key{i, h}], s.dneg[key{i, h}])
}

// ItemDeviation returns the sum of Deviation over households for item `i`.
func (s *Substrate) ItemDeviation(i string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, h := range s.Households {
		e.Add(s.Deviation(i, h))
	}
	return e
}

// HouseholdDeviation returns the sum of Deviation over items for household `h`.
func (s *Substrate) HouseholdDeviation(h string) *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		e.Add(s.Deviation(i, h))
	}
	return e
}

// TotalDeviation returns the sum of Deviation over all pairs.
func (s *Substrate) TotalDeviation() *lpmodel.LinearExpr {
	e := lpmodel.NewLinearExpr()
	for _, i := range s.Items {
		e.Add(s.ItemDeviation(i))
	}
	return e
}

// ItemMeanDeviation returns the mean deviation of item `i` over households.
func (s *Substrate) ItemMeanDeviation(i string) *lpmodel.LinearExpr {
	return meanOf(s.ItemDeviation(i), len(s.Households))
}

// HouseholdMeanDeviation returns the mean deviation of household `h` over items.
func (s *Substrate) HouseholdMeanDeviation(h string) *lpmodel.LinearExpr {
	return meanOf(s.HouseholdDeviation(h), len(s.Items))
}

// GlobalMeanDeviation returns the mean deviation over all pairs.
func (s *Substrate) GlobalMeanDeviation() *lpmodel.LinearExpr {
	return meanOf(s.TotalDeviation(), len(s.Items)*len(s.Households))
}

// Ratio is the quotient of two linear expressions, evaluated against a solution.
type Ratio struct {
	Num *lpmodel.LinearExpr
	Den *lpmodel.LinearExpr
}

// Evaluate returns Num/Den in `sol`, or 0 when the denominator vanishes.
func (r Ratio) Evaluate(sol *lpmodel.Solution) float64 {
	den := lpmodel.SolutionValue(sol, r.Den)
	if math.Abs(den) < MinRequirement {
		return 0
	}
	return lpmodel.SolutionValue(sol, r.Num) / den
}

// ItemRelativeDeviation returns ItemDeviation(i) / Available(i).
func (s *Substrate) ItemRelativeDeviation(i string) Ratio {
	return Ratio{Num: s.ItemDeviation(i), Den: s.Available(i)}
}

// HouseholdRelativeDeviation returns HouseholdDeviation(h) / (weight(h) * TotalSupply).
func (s *Substrate) HouseholdRelativeDeviation(h string) Ratio {
	return Ratio{Num: s.HouseholdDeviation(h), Den: lpmodel.NewLinearExpr().AddTerm(s.TotalSupply(), s.weight[h])}
}

// PairRelativeDeviation returns Deviation(i,h) / (weight(h) * Available(i)).
func (s *Substrate) PairRelativeDeviation(i, h string) Ratio {
	return Ratio{Num: s.Deviation(i, h), Den: lpmodel.NewLinearExpr().AddTerm(s.Available(i), s.weight[h])}
}
