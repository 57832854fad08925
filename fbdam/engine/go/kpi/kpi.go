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

// Package kpi computes key performance indicators of a solved allocation model.
package kpi

import (
	"errors"
	"math"

	log "github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// Decimals is the number of decimals KPI values are rounded to.
const Decimals = 5

// Basic describes the model and the solve outcome. It is always present.
type Basic struct {
	Items      int    `json:"items"`
	Households int    `json:"households"`
	Nutrients  int    `json:"nutrients"`
	Status     string `json:"feasibility_status"`
	// ObjectiveValue is nil when the solve produced no solution.
	ObjectiveValue *float64 `json:"objective_value"`
	Relaxed        bool     `json:"relaxed"`
}

// Supply aggregates allocated quantities.
type Supply struct {
	TotalAllocation      float64 `json:"total_allocation"`
	AvgAllocationPerPair float64 `json:"avg_allocation_per_pair"`
	Undistributed        float64 `json:"undistributed"`
	TotalCost            float64 `json:"total_cost"`
}

// Utility aggregates nutritional utilities.
type Utility struct {
	TotalNutritionalUtility    float64 `json:"total_nutritional_utility"`
	GlobalMeanUtility          float64 `json:"global_mean_utility"`
	MinMeanUtilityPerHousehold float64 `json:"min_mean_utility_per_household"`
	MinMeanUtilityPerNutrient  float64 `json:"min_mean_utility_per_nutrient"`
	MinOverallUtility          float64 `json:"min_overall_utility"`
}

// Fairness aggregates deviations from the fair share.
type Fairness struct {
	GlobalMeanDeviation          float64 `json:"global_mean_deviation_from_fair_share"`
	MinMeanDeviationPerHousehold float64 `json:"min_mean_deviation_from_fair_share_per_household"`
	MinMeanDeviationPerItem      float64 `json:"min_mean_deviation_from_fair_share_per_item"`
	MinOverallDeviation          float64 `json:"min_overall_deviation_from_fair_share"`
	// MaxItemRelativeDeviation is the largest item deviation relative to the item availability.
	MaxItemRelativeDeviation float64 `json:"max_item_relative_deviation"`
}

// Report holds the KPIs of one solve. Only Basic is set when the solve has no solution.
type Report struct {
	Basic    Basic     `json:"basic"`
	Supply   *Supply   `json:"supply,omitempty"`
	Utility  *Utility  `json:"utility,omitempty"`
	Fairness *Fairness `json:"fairness,omitempty"`
}

// Compute evaluates the KPIs of `sol` on model `m`.
func Compute(m *composer.Model, sol *lpmodel.Solution) (*Report, error) {
	if m == nil || m.Substrate == nil {
		return nil, errors.New("kpi: nil model")
	}
	s := m.Substrate
	r := &Report{Basic: Basic{
		Items:      len(s.Items),
		Households: len(s.Households),
		Nutrients:  len(s.Nutrients),
		Status:     lpmodel.Unknown.String(),
	}}
	if sol == nil || !sol.Status.HasSolution() || len(sol.Values) != len(m.LP.Variables) {
		if sol != nil {
			r.Basic.Status = sol.Status.String()
		}
		log.V(1).Infof("kpi: model %q has no solution, status %s", m.LP.Name, r.Basic.Status)
		return r, nil
	}
	obj := round(sol.ObjectiveValue)
	r.Basic.Status = sol.Status.String()
	r.Basic.ObjectiveValue = &obj
	r.Basic.Relaxed = sol.Relaxed

	value := func(e lpmodel.LinearArgument) float64 { return lpmodel.SolutionValue(sol, e) }
	r.Supply = &Supply{
		TotalAllocation:      round(value(s.TotalAllocated())),
		AvgAllocationPerPair: round(value(s.MeanAllocated())),
		Undistributed:        round(value(s.Undistributed())),
		TotalCost:            round(value(s.TotalCost())),
	}

	u := &Utility{
		TotalNutritionalUtility: value(s.TotalUtility()),
		GlobalMeanUtility:       value(s.GlobalMeanUtility()),
	}
	var perHousehold, perNutrient, overall []float64
	for _, h := range s.Households {
		perHousehold = append(perHousehold, value(s.HouseholdMeanUtility(h)))
	}
	for _, n := range s.Nutrients {
		perNutrient = append(perNutrient, value(s.NutrientMeanUtility(n)))
		for _, h := range s.Households {
			overall = append(overall, value(s.U(n, h)))
		}
	}
	u.MinMeanUtilityPerHousehold = minimum(perHousehold)
	u.MinMeanUtilityPerNutrient = minimum(perNutrient)
	u.MinOverallUtility = minimum(overall)
	roundAll(&u.TotalNutritionalUtility, &u.GlobalMeanUtility, &u.MinMeanUtilityPerHousehold,
		&u.MinMeanUtilityPerNutrient, &u.MinOverallUtility)
	r.Utility = u

	f := &Fairness{GlobalMeanDeviation: value(s.GlobalMeanDeviation())}
	var devHousehold, devItem, devPair, relItem []float64
	for _, h := range s.Households {
		devHousehold = append(devHousehold, value(s.HouseholdMeanDeviation(h)))
	}
	for _, i := range s.Items {
		devItem = append(devItem, value(s.ItemMeanDeviation(i)))
		relItem = append(relItem, s.ItemRelativeDeviation(i).Evaluate(sol))
		for _, h := range s.Households {
			devPair = append(devPair, value(s.Deviation(i, h)))
		}
	}
	f.MinMeanDeviationPerHousehold = minimum(devHousehold)
	f.MinMeanDeviationPerItem = minimum(devItem)
	f.MinOverallDeviation = minimum(devPair)
	f.MaxItemRelativeDeviation = maximum(relItem)
	roundAll(&f.GlobalMeanDeviation, &f.MinMeanDeviationPerHousehold, &f.MinMeanDeviationPerItem,
		&f.MinOverallDeviation, &f.MaxItemRelativeDeviation)
	r.Fairness = f
	return r, nil
}

// AsStruct returns the report as a protobuf Struct keyed like the JSON encoding.
func (r *Report) AsStruct() (*structpb.Struct, error) {
	m := map[string]any{"basic": r.Basic.asMap()}
	if r.Supply != nil {
		m["supply"] = map[string]any{
			"total_allocation":        r.Supply.TotalAllocation,
			"avg_allocation_per_pair": r.Supply.AvgAllocationPerPair,
			"undistributed":           r.Supply.Undistributed,
			"total_cost":              r.Supply.TotalCost,
		}
	}
	if r.Utility != nil {
		m["utility"] = map[string]any{
			"total_nutritional_utility":      r.Utility.TotalNutritionalUtility,
			"global_mean_utility":            r.Utility.GlobalMeanUtility,
			"min_mean_utility_per_household": r.Utility.MinMeanUtilityPerHousehold,
			"min_mean_utility_per_nutrient":  r.Utility.MinMeanUtilityPerNutrient,
			"min_overall_utility":            r.Utility.MinOverallUtility,
		}
	}
	if r.Fairness != nil {
		m["fairness"] = map[string]any{
			"global_mean_deviation_from_fair_share":            r.Fairness.GlobalMeanDeviation,
			"min_mean_deviation_from_fair_share_per_household": r.Fairness.MinMeanDeviationPerHousehold,
			"min_mean_deviation_from_fair_share_per_item":      r.Fairness.MinMeanDeviationPerItem,
			"min_overall_deviation_from_fair_share":            r.Fairness.MinOverallDeviation,
			"max_item_relative_deviation":                      r.Fairness.MaxItemRelativeDeviation,
		}
	}
	return structpb.NewStruct(m)
}

func (b Basic) asMap() map[string]any {
	m := map[string]any{
		"items":              b.Items,
		"households":         b.Households,
		"nutrients":          b.Nutrients,
		"feasibility_status": b.Status,
		"objective_value":    nil,
		"relaxed":            b.Relaxed,
	}
	if b.ObjectiveValue != nil {
		m["objective_value"] = *b.ObjectiveValue
	}
	return m
}

func round(v float64) float64 {
	p := math.Pow10(Decimals)
	r := math.Round(v*p) / p
	if r == 0 {
		// Drop negative zeros.
		return 0
	}
	return r
}

func roundAll(vs ...*float64) {
	for _, v := range vs {
		*v = round(*v)
	}
}

// minimum returns the smallest value, or 0 for an empty slice.
func minimum(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Min(m, v)
	}
	return m
}

// maximum returns the largest value, or 0 for an empty slice.
func maximum(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Max(m, v)
	}
	return m
}
