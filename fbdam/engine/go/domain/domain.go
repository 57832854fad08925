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

// Package domain holds the typed, validated description of a food-bank allocation instance:
// items, nutrients, households and the relations between them.
//
// A `Snapshot` is built once from a `Data` record, validated for entity invariants and
// referential integrity, and never mutated afterwards. It is safe for concurrent reads.
package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidEntity holds the error when a field of an entity violates its invariant.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrDuplicateKey holds the error when two records share the same natural key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrDanglingReference holds the error when a relation references an unknown entity.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrNotFound holds the error when a lookup key is not in the snapshot.
	ErrNotFound = errors.New("not found")
)

// DefaultFairShareWeight is the weight of a household that does not declare one.
const DefaultFairShareWeight = 1.0

// Item is a stock-keeping unit that can be allocated to households.
type Item struct {
	ID    string
	Name  string
	Stock float64
	Cost  float64
	Unit  string
}

// Nutrient is a tracked nutritional dimension.
type Nutrient struct {
	ID   string
	Name string
	Unit string
}

// Household is a recipient of allocations.
type Household struct {
	ID              string
	Name            string
	FairShareWeight float64
	Group           string
}

// Requirement is the amount of a nutrient a household needs.
type Requirement struct {
	HouseholdID string
	NutrientID  string
	Amount      float64
}

// ItemNutrient is the quantity of a nutrient contained in one unit of an item.
type ItemNutrient struct {
	ItemID     string
	NutrientID string
	QtyPerUnit float64
}

// AllocationBounds restricts the allocation of an item to a household. A nil `Upper` means the
// allocation is unbounded above.
type AllocationBounds struct {
	ItemID      string
	HouseholdID string
	Lower       float64
	Upper       *float64
}

// UpperBound returns a pointer to `v`, for use as `AllocationBounds.Upper`.
func UpperBound(v float64) *float64 {
	return &v
}

func checkID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s id must be a non-empty string: %w", kind, ErrInvalidEntity)
	}
	return nil
}

func checkName(kind, id, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s %s name must be a non-empty string: %w", kind, id, ErrInvalidEntity)
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%s must be a finite number >= 0, got %v: %w", field, v, ErrInvalidEntity)
	}
	return nil
}

// Validate returns an error if the item has an empty id or name, or a negative stock or cost.
func (i Item) Validate() error {
	if err := checkID("item", i.ID); err != nil {
		return err
	}
	if err := checkName("item", i.ID, i.Name); err != nil {
		return err
	}
	if err := checkNonNegative("item "+i.ID+" stock", i.Stock); err != nil {
		return err
	}
	return checkNonNegative("item "+i.ID+" cost", i.Cost)
}

// Validate returns an error if the nutrient has an empty id or name.
func (n Nutrient) Validate() error {
	if err := checkID("nutrient", n.ID); err != nil {
		return err
	}
	return checkName("nutrient", n.ID, n.Name)
}

// Validate returns an error if the household has an empty id or name, or a negative weight.
func (h Household) Validate() error {
	if err := checkID("household", h.ID); err != nil {
		return err
	}
	if err := checkName("household", h.ID, h.Name); err != nil {
		return err
	}
	return checkNonNegative("household "+h.ID+" fair-share weight", h.FairShareWeight)
}

// Validate returns an error if a key is empty or the amount is negative.
func (r Requirement) Validate() error {
	if err := checkID("requirement household", r.HouseholdID); err != nil {
		return err
	}
	if err := checkID("requirement nutrient", r.NutrientID); err != nil {
		return err
	}
	return checkNonNegative(fmt.Sprintf("requirement (%s, %s) amount", r.HouseholdID, r.NutrientID), r.Amount)
}

// Validate returns an error if a key is empty or the quantity is negative.
func (in ItemNutrient) Validate() error {
	if err := checkID("item-nutrient item", in.ItemID); err != nil {
		return err
	}
	if err := checkID("item-nutrient nutrient", in.NutrientID); err != nil {
		return err
	}
	return checkNonNegative(fmt.Sprintf("item-nutrient (%s, %s) quantity", in.ItemID, in.NutrientID), in.QtyPerUnit)
}

// Validate returns an error if a key is empty, the lower bound is negative, or the upper bound
// is below the lower bound.
func (b AllocationBounds) Validate() error {
	if err := checkID("bounds item", b.ItemID); err != nil {
		return err
	}
	if err := checkID("bounds household", b.HouseholdID); err != nil {
		return err
	}
	key := fmt.Sprintf("bounds (%s, %s)", b.ItemID, b.HouseholdID)
	if err := checkNonNegative(key+" lower", b.Lower); err != nil {
		return err
	}
	if b.Upper == nil {
		return nil
	}
	if err := checkNonNegative(key+" upper", *b.Upper); err != nil {
		return err
	}
	if *b.Upper < b.Lower {
		return fmt.Errorf("%s upper %v must be >= lower %v: %w", key, *b.Upper, b.Lower, ErrInvalidEntity)
	}
	return nil
}

// UpperOrInf returns the upper bound, or +Inf if there is none.
func (b AllocationBounds) UpperOrInf() float64 {
	if b.Upper == nil {
		return math.Inf(1)
	}
	return *b.Upper
}
