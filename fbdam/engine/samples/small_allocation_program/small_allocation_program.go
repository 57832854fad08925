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

// The small_allocation_program command builds an allocation model in code, without scenario
// files, and solves its linear relaxation.
package main

import (
	"fmt"

	log "github.com/golang/glog"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
	"github.com/fbdam/fbdam/fbdam/linear/go/simplex"
)

func smallAllocationProgram() error {
	snap, err := domain.NewSnapshot(domain.Data{
		Items: []domain.Item{
			{ID: "rice", Name: "Rice", Stock: 12, Cost: 2, Unit: "kg"},
			{ID: "beans", Name: "Beans", Stock: 6, Cost: 1.5, Unit: "can"},
			{ID: "milk", Name: "Milk", Stock: 8, Cost: 1, Unit: "l"},
		},
		Nutrients: []domain.Nutrient{
			{ID: "energy", Name: "Energy", Unit: "kcal"},
			{ID: "protein", Name: "Protein", Unit: "g"},
		},
		Households: []domain.Household{
			{ID: "h1", Name: "Large", FairShareWeight: 0.5},
			{ID: "h2", Name: "Medium", FairShareWeight: 0.3},
			{ID: "h3", Name: "Small", FairShareWeight: 0.2},
		},
		ItemNutrients: []domain.ItemNutrient{
			{ItemID: "rice", NutrientID: "energy", QtyPerUnit: 3600},
			{ItemID: "rice", NutrientID: "protein", QtyPerUnit: 70},
			{ItemID: "beans", NutrientID: "energy", QtyPerUnit: 350},
			{ItemID: "beans", NutrientID: "protein", QtyPerUnit: 22},
			{ItemID: "milk", NutrientID: "energy", QtyPerUnit: 640},
			{ItemID: "milk", NutrientID: "protein", QtyPerUnit: 33},
		},
		Requirements: []domain.Requirement{
			{HouseholdID: "h1", NutrientID: "energy", Amount: 28000},
			{HouseholdID: "h1", NutrientID: "protein", Amount: 700},
			{HouseholdID: "h2", NutrientID: "energy", Amount: 16000},
			{HouseholdID: "h2", NutrientID: "protein", Amount: 420},
			{HouseholdID: "h3", NutrientID: "energy", Amount: 9000},
			{HouseholdID: "h3", NutrientID: "protein", Amount: 210},
		},
		Bounds: []domain.AllocationBounds{
			{ItemID: "milk", HouseholdID: "h3", Lower: 1, Upper: domain.UpperBound(4)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create the domain snapshot: %w", err)
	}

	params, err := dial.NewBundle(map[string]any{
		"allocation_domain": "continuous",
		"allow_purchases":   true,
		"budget":            20,
		"lambda":            0.1,
		"dials": map[string]any{
			"alpha": 0.4,
			"rho_h": map[string]any{"h3": 0.9, "default": 0.8},
		},
	})
	if err != nil {
		return err
	}
	m, err := composer.Build(&composer.Spec{
		Name:   "small_allocation",
		Domain: snap,
		Constraints: []composer.ConstraintSpec{
			{Name: composer.UtilityLinkName},
			{Name: composer.SupplyLimitName},
			{Name: composer.PurchaseBudgetName},
			{Name: composer.DeviationIdentityName},
			{Name: composer.ItemEquityCapName},
			{Name: composer.HouseholdFloorName},
		},
		Objectives: []composer.ObjectiveSpec{{Name: composer.SumUtilityName}},
		Params:     params,
	})
	if err != nil {
		return fmt.Errorf("failed to build the model: %w", err)
	}

	sol, err := simplex.Solver{}.Solve(m.LP)
	if err != nil {
		return fmt.Errorf("failed to solve the model: %w", err)
	}
	fmt.Printf("status: %v\n", sol.Status)
	if !sol.Status.HasSolution() {
		return nil
	}
	s := m.Substrate
	fmt.Printf("objective: %.4f (epsilon %.4f)\n", sol.ObjectiveValue, lpmodel.SolutionValue(sol, s.Epsilon()))
	for _, i := range s.Items {
		fmt.Printf("%-6s stock %5.1f  bought %5.2f:", i, s.Stock(i), lpmodel.SolutionValue(sol, s.Y(i)))
		for _, h := range s.Households {
			fmt.Printf("  %s=%.2f", h, lpmodel.SolutionValue(sol, s.X(i, h)))
		}
		fmt.Println()
	}
	for _, h := range s.Households {
		fmt.Printf("%s mean utility %.4f\n", h, lpmodel.SolutionValue(sol, s.HouseholdMeanUtility(h)))
	}
	return nil
}

func main() {
	if err := smallAllocationProgram(); err != nil {
		log.Exitf("smallAllocationProgram returned with error: %v", err)
	}
}
