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

package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validData() Data {
	return Data{
		Items: []Item{
			{ID: "rice", Name: "Rice", Stock: 10, Cost: 2.5, Unit: "kg"},
			{ID: "beans", Name: "Beans", Stock: 5, Cost: 3},
		},
		Nutrients: []Nutrient{
			{ID: "protein", Name: "Protein", Unit: "g"},
		},
		Households: []Household{
			{ID: "h1", Name: "House 1", FairShareWeight: 0.6},
			{ID: "h2", Name: "House 2", FairShareWeight: 0.4},
		},
		ItemNutrients: []ItemNutrient{
			{ItemID: "rice", NutrientID: "protein", QtyPerUnit: 2},
			{ItemID: "beans", NutrientID: "protein", QtyPerUnit: 5},
		},
		Requirements: []Requirement{
			{HouseholdID: "h1", NutrientID: "protein", Amount: 20},
			{HouseholdID: "h2", NutrientID: "protein", Amount: 15},
		},
		Bounds: []AllocationBounds{
			{ItemID: "rice", HouseholdID: "h1", Lower: 1, Upper: UpperBound(6)},
			{ItemID: "beans", HouseholdID: "h2", Lower: 0},
		},
	}
}

func mustSnapshot(t *testing.T, d Data) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(d)
	if err != nil {
		t.Fatalf("NewSnapshot() returned with unexpected error %v", err)
	}
	return s
}

func TestNewSnapshot_Lookups(t *testing.T) {
	s := mustSnapshot(t, validData())

	if diff := cmp.Diff([]string{"beans", "rice"}, s.ItemIDs()); diff != "" {
		t.Errorf("ItemIDs() returned with unexpected diff (-want+got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"h1", "h2"}, s.HouseholdIDs()); diff != "" {
		t.Errorf("HouseholdIDs() returned with unexpected diff (-want+got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"protein"}, s.NutrientIDs()); diff != "" {
		t.Errorf("NutrientIDs() returned with unexpected diff (-want+got):\n%s", diff)
	}

	rice, err := s.Item("rice")
	if err != nil {
		t.Fatalf("Item(rice) returned with unexpected error %v", err)
	}
	if rice.Stock != 10 || rice.Cost != 2.5 {
		t.Errorf("Item(rice) = %+v, want stock 10 and cost 2.5", rice)
	}
	if h, err := s.Household("h2"); err != nil || h.FairShareWeight != 0.4 {
		t.Errorf("Household(h2) = %+v, %v, want weight 0.4", h, err)
	}
	if _, err := s.Nutrient("protein"); err != nil {
		t.Errorf("Nutrient(protein) returned with unexpected error %v", err)
	}
	if in, ok := s.ItemNutrient("beans", "protein"); !ok || in.QtyPerUnit != 5 {
		t.Errorf("ItemNutrient(beans, protein) = %+v, %v, want quantity 5", in, ok)
	}
	if r, ok := s.Requirement("h1", "protein"); !ok || r.Amount != 20 {
		t.Errorf("Requirement(h1, protein) = %+v, %v, want amount 20", r, ok)
	}
	if b, ok := s.Bounds("rice", "h1"); !ok || b.Lower != 1 || b.UpperOrInf() != 6 {
		t.Errorf("Bounds(rice, h1) = %+v, %v, want [1,6]", b, ok)
	}
	if b, ok := s.Bounds("beans", "h2"); !ok || !math.IsInf(b.UpperOrInf(), 1) {
		t.Errorf("Bounds(beans, h2) = %+v, %v, want unbounded above", b, ok)
	}
	if _, ok := s.Bounds("beans", "h1"); ok {
		t.Errorf("Bounds(beans, h1) found bounds, want none")
	}
	if got := s.TotalStock(); got != 15 {
		t.Errorf("TotalStock() = %v, want 15", got)
	}
}

func TestSnapshot_NotFound(t *testing.T) {
	s := mustSnapshot(t, validData())

	testCases := []struct {
		name   string
		lookup func() error
	}{
		{"Item", func() error { _, err := s.Item("flour"); return err }},
		{"Nutrient", func() error { _, err := s.Nutrient("iron"); return err }},
		{"Household", func() error { _, err := s.Household("h9"); return err }},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			if err := test.lookup(); !errors.Is(err, ErrNotFound) {
				t.Errorf("lookup returned with unexpected error %v; want ErrNotFound", err)
			}
		})
	}
}

func TestSnapshot_IsNotAliased(t *testing.T) {
	d := validData()
	s := mustSnapshot(t, d)

	d.Items[0].Stock = 99
	*d.Bounds[0].Upper = 99
	ids := s.ItemIDs()
	ids[0] = "changed"

	if it, _ := s.Item("rice"); it.Stock != 10 {
		t.Errorf("Item(rice).Stock = %v after mutating the input, want 10", it.Stock)
	}
	if b, _ := s.Bounds("rice", "h1"); *b.Upper != 6 {
		t.Errorf("Bounds(rice, h1).Upper = %v after mutating the input, want 6", *b.Upper)
	}
	if got := s.ItemIDs()[0]; got != "beans" {
		t.Errorf("ItemIDs()[0] = %v after mutating a returned slice, want beans", got)
	}
}

func TestNewSnapshot_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(d *Data)
		wantErr error
	}{
		{
			name:    "EmptyItemID",
			mutate:  func(d *Data) { d.Items[0].ID = " " },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "EmptyItemName",
			mutate:  func(d *Data) { d.Items[0].Name = "" },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "EmptyNutrientName",
			mutate:  func(d *Data) { d.Nutrients[0].Name = " " },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "EmptyHouseholdName",
			mutate:  func(d *Data) { d.Households[1].Name = "" },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "NegativeStock",
			mutate:  func(d *Data) { d.Items[0].Stock = -1 },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "NaNCost",
			mutate:  func(d *Data) { d.Items[1].Cost = math.NaN() },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "NegativeWeight",
			mutate:  func(d *Data) { d.Households[0].FairShareWeight = -0.1 },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "NegativeRequirement",
			mutate:  func(d *Data) { d.Requirements[0].Amount = -3 },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "NegativeContent",
			mutate:  func(d *Data) { d.ItemNutrients[0].QtyPerUnit = -3 },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "UpperBelowLower",
			mutate:  func(d *Data) { d.Bounds[0].Upper = UpperBound(0.5) },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "DuplicateItem",
			mutate:  func(d *Data) { d.Items = append(d.Items, Item{ID: "rice", Name: "Rice"}) },
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "DuplicateRequirement",
			mutate:  func(d *Data) { d.Requirements = append(d.Requirements, d.Requirements[0]) },
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "DuplicateBounds",
			mutate:  func(d *Data) { d.Bounds = append(d.Bounds, AllocationBounds{ItemID: "rice", HouseholdID: "h1"}) },
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "ContentUnknownItem",
			mutate:  func(d *Data) { d.ItemNutrients[0].ItemID = "flour" },
			wantErr: ErrDanglingReference,
		},
		{
			name:    "RequirementUnknownNutrient",
			mutate:  func(d *Data) { d.Requirements[0].NutrientID = "iron" },
			wantErr: ErrDanglingReference,
		},
		{
			name:    "BoundsUnknownHousehold",
			mutate:  func(d *Data) { d.Bounds[1].HouseholdID = "h9" },
			wantErr: ErrDanglingReference,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			d := validData()
			test.mutate(&d)
			got, err := NewSnapshot(d)
			if !errors.Is(err, test.wantErr) {
				t.Errorf("NewSnapshot() returned with unexpected error %v; want %v", err, test.wantErr)
			}
			if got != nil {
				t.Errorf("NewSnapshot() returned with unexpected snapshot; want nil")
			}
		})
	}
}
