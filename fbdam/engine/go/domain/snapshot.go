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
	"fmt"
	"sort"

	log "github.com/golang/glog"
)

// Data is the raw content of a snapshot, before validation.
type Data struct {
	Items         []Item
	Nutrients     []Nutrient
	Households    []Household
	ItemNutrients []ItemNutrient
	Requirements  []Requirement
	Bounds        []AllocationBounds
}

type pair struct {
	a, b string
}

// Snapshot is an immutable, validated view of a Data record indexed by natural keys.
type Snapshot struct {
	items         map[string]Item
	nutrients     map[string]Nutrient
	households    map[string]Household
	itemNutrients map[pair]ItemNutrient
	requirements  map[pair]Requirement
	bounds        map[pair]AllocationBounds

	itemIDs      []string
	nutrientIDs  []string
	householdIDs []string
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewSnapshot validates `d` and returns the corresponding Snapshot. Entities are checked for
// their field invariants, natural keys for uniqueness, and relations for references to known
// entities. The snapshot does not alias the slices of `d`.
func NewSnapshot(d Data) (*Snapshot, error) {
	s := &Snapshot{
		items:         make(map[string]Item, len(d.Items)),
		nutrients:     make(map[string]Nutrient, len(d.Nutrients)),
		households:    make(map[string]Household, len(d.Households)),
		itemNutrients: make(map[pair]ItemNutrient, len(d.ItemNutrients)),
		requirements:  make(map[pair]Requirement, len(d.Requirements)),
		bounds:        make(map[pair]AllocationBounds, len(d.Bounds)),
	}

	for _, it := range d.Items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.items[it.ID]; ok {
			return nil, fmt.Errorf("item %q: %w", it.ID, ErrDuplicateKey)
		}
		s.items[it.ID] = it
	}
	for _, n := range d.Nutrients {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.nutrients[n.ID]; ok {
			return nil, fmt.Errorf("nutrient %q: %w", n.ID, ErrDuplicateKey)
		}
		s.nutrients[n.ID] = n
	}
	for _, h := range d.Households {
		if err := h.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.households[h.ID]; ok {
			return nil, fmt.Errorf("household %q: %w", h.ID, ErrDuplicateKey)
		}
		s.households[h.ID] = h
	}

	for _, in := range d.ItemNutrients {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.items[in.ItemID]; !ok {
			return nil, fmt.Errorf("item-nutrient references unknown item %q: %w", in.ItemID, ErrDanglingReference)
		}
		if _, ok := s.nutrients[in.NutrientID]; !ok {
			return nil, fmt.Errorf("item-nutrient references unknown nutrient %q: %w", in.NutrientID, ErrDanglingReference)
		}
		k := pair{in.ItemID, in.NutrientID}
		if _, ok := s.itemNutrients[k]; ok {
			return nil, fmt.Errorf("item-nutrient (%s, %s): %w", in.ItemID, in.NutrientID, ErrDuplicateKey)
		}
		s.itemNutrients[k] = in
	}
	for _, r := range d.Requirements {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.households[r.HouseholdID]; !ok {
			return nil, fmt.Errorf("requirement references unknown household %q: %w", r.HouseholdID, ErrDanglingReference)
		}
		if _, ok := s.nutrients[r.NutrientID]; !ok {
			return nil, fmt.Errorf("requirement references unknown nutrient %q: %w", r.NutrientID, ErrDanglingReference)
		}
		k := pair{r.HouseholdID, r.NutrientID}
		if _, ok := s.requirements[k]; ok {
			return nil, fmt.Errorf("requirement (%s, %s): %w", r.HouseholdID, r.NutrientID, ErrDuplicateKey)
		}
		s.requirements[k] = r
	}
	for _, b := range d.Bounds {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.items[b.ItemID]; !ok {
			return nil, fmt.Errorf("bounds reference unknown item %q: %w", b.ItemID, ErrDanglingReference)
		}
		if _, ok := s.households[b.HouseholdID]; !ok {
			return nil, fmt.Errorf("bounds reference unknown household %q: %w", b.HouseholdID, ErrDanglingReference)
		}
		k := pair{b.ItemID, b.HouseholdID}
		if _, ok := s.bounds[k]; ok {
			return nil, fmt.Errorf("bounds (%s, %s): %w", b.ItemID, b.HouseholdID, ErrDuplicateKey)
		}
		if b.Upper != nil {
			b.Upper = UpperBound(*b.Upper)
		}
		s.bounds[k] = b
	}

	s.itemIDs = sortedKeys(s.items)
	s.nutrientIDs = sortedKeys(s.nutrients)
	s.householdIDs = sortedKeys(s.households)
	log.V(1).Infof("snapshot: %d items, %d nutrients, %d households, %d contents, %d requirements, %d bounds",
		len(d.Items), len(d.Nutrients), len(d.Households), len(d.ItemNutrients), len(d.Requirements), len(d.Bounds))
	return s, nil
}

// Item returns the item with the given id.
func (s *Snapshot) Item(id string) (Item, error) {
	it, ok := s.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return it, nil
}

// Nutrient returns the nutrient with the given id.
func (s *Snapshot) Nutrient(id string) (Nutrient, error) {
	n, ok := s.nutrients[id]
	if !ok {
		return Nutrient{}, fmt.Errorf("nutrient %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Household returns the household with the given id.
func (s *Snapshot) Household(id string) (Household, error) {
	h, ok := s.households[id]
	if !ok {
		return Household{}, fmt.Errorf("household %q: %w", id, ErrNotFound)
	}
	return h, nil
}

// ItemNutrient returns the nutrient content of an item, and false if the item does not
// declare that nutrient.
func (s *Snapshot) ItemNutrient(itemID, nutrientID string) (ItemNutrient, bool) {
	in, ok := s.itemNutrients[pair{itemID, nutrientID}]
	return in, ok
}

// Requirement returns the requirement of a household for a nutrient, and false if none was
// declared.
func (s *Snapshot) Requirement(householdID, nutrientID string) (Requirement, bool) {
	r, ok := s.requirements[pair{householdID, nutrientID}]
	return r, ok
}

// Bounds returns the allocation bounds of an item for a household, and false if none were
// declared.
func (s *Snapshot) Bounds(itemID, householdID string) (AllocationBounds, bool) {
	b, ok := s.bounds[pair{itemID, householdID}]
	if ok && b.Upper != nil {
		b.Upper = UpperBound(*b.Upper)
	}
	return b, ok
}

// ItemIDs returns the sorted ids of all items.
func (s *Snapshot) ItemIDs() []string {
	return append([]string(nil), s.itemIDs...)
}

// NutrientIDs returns the sorted ids of all nutrients.
func (s *Snapshot) NutrientIDs() []string {
	return append([]string(nil), s.nutrientIDs...)
}

// HouseholdIDs returns the sorted ids of all households.
func (s *Snapshot) HouseholdIDs() []string {
	return append([]string(nil), s.householdIDs...)
}

// Counts returns the number of items, nutrients and households.
func (s *Snapshot) Counts() (items, nutrients, households int) {
	return len(s.items), len(s.nutrients), len(s.households)
}

// TotalStock returns the sum of the stock of all items.
func (s *Snapshot) TotalStock() float64 {
	var total float64
	for _, id := range s.itemIDs {
		total += s.items[id].Stock
	}
	return total
}
