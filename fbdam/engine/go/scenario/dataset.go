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

package scenario

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fbdam/fbdam/fbdam/engine/go/dial"
	"github.com/fbdam/fbdam/fbdam/engine/go/domain"
)

// Dataset file names.
const (
	ItemsFile         = "items.csv"
	NutrientsFile     = "nutrients.csv"
	HouseholdsFile    = "households.csv"
	RequirementsFile  = "requirements.csv"
	ItemNutrientsFile = "item_nutrients.csv"
	BoundsFile        = "household_item_bounds.csv"
	paramsFile        = "params.yaml"
)

// record is one CSV row keyed by column name.
type record struct {
	file   string
	line   int
	fields map[string]string
}

func (r record) get(col string) string {
	return strings.TrimSpace(r.fields[col])
}

func (r record) has(col string) bool {
	return r.get(col) != ""
}

// float parses `col`, returning `def` when the cell is empty or the column absent.
func (r record) float(col string, def float64) (float64, error) {
	s := r.get(col)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s:%d: cannot convert %q=%q to float: %w", r.file, r.line, col, s, ErrDataset)
	}
	return v, nil
}

// readTable reads the CSV file `name` in `dir`. A missing optional file yields no records.
func readTable(dir, name string, required []string, optional bool) ([]record, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) && optional {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrDataset, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty or malformed CSV (no header): %w", name, ErrDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrDataset, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	var missing []string
	for _, col := range required {
		found := false
		for _, h := range header {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing required columns %v, found %v: %w", name, missing, header, ErrDataset)
	}

	var out []record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w: %v", name, line, ErrDataset, err)
		}
		rec := record{file: name, line: line, fields: make(map[string]string, len(header))}
		for i, h := range header {
			if i < len(row) {
				rec.fields[h] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadDataset reads the CSV tables of the dataset directory `dir`. Every table but
// household_item_bounds.csv is required. The result is not validated, see domain.NewSnapshot.
//
// Households declaring a `size` but no `fairshare_weight` are weighted by their share of the
// total declared size. An empty, missing or "None" upper bound means no upper bound.
func LoadDataset(dir string) (domain.Data, error) {
	var d domain.Data
	var err error
	if d.Items, err = loadItems(dir); err != nil {
		return d, err
	}
	if d.Nutrients, err = loadNutrients(dir); err != nil {
		return d, err
	}
	if d.Households, err = loadHouseholds(dir); err != nil {
		return d, err
	}
	if d.ItemNutrients, err = loadItemNutrients(dir); err != nil {
		return d, err
	}
	if d.Requirements, err = loadRequirements(dir); err != nil {
		return d, err
	}
	if d.Bounds, err = loadBounds(dir); err != nil {
		return d, err
	}
	return d, nil
}

func loadItems(dir string) ([]domain.Item, error) {
	recs, err := readTable(dir, ItemsFile, []string{"item_id", "name", "stock"}, false)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(recs))
	for _, r := range recs {
		stock, err := r.float("stock", 0)
		if err != nil {
			return nil, err
		}
		cost, err := r.float("cost", 0)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.Item{
			ID:    r.get("item_id"),
			Name:  r.get("name"),
			Stock: stock,
			Cost:  cost,
			Unit:  r.get("unit"),
		})
	}
	return items, nil
}

func loadNutrients(dir string) ([]domain.Nutrient, error) {
	recs, err := readTable(dir, NutrientsFile, []string{"nutrient_id", "name"}, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Nutrient, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Nutrient{ID: r.get("nutrient_id"), Name: r.get("name"), Unit: r.get("unit")})
	}
	return out, nil
}

func loadHouseholds(dir string) ([]domain.Household, error) {
	recs, err := readTable(dir, HouseholdsFile, []string{"household_id", "name"}, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Household, len(recs))
	sized := make(map[int]float64)
	totalSize := 0.0
	for k, r := range recs {
		w, err := r.float("fairshare_weight", domain.DefaultFairShareWeight)
		if err != nil {
			return nil, err
		}
		if !r.has("fairshare_weight") && r.has("size") {
			size, err := r.float("size", 0)
			if err != nil {
				return nil, err
			}
			sized[k] = size
			totalSize += size
		}
		out[k] = domain.Household{
			ID:              r.get("household_id"),
			Name:            r.get("name"),
			FairShareWeight: w,
			Group:           r.get("group"),
		}
	}
	if totalSize > 0 {
		for k, size := range sized {
			out[k].FairShareWeight = size / totalSize
		}
	}
	return out, nil
}

func loadItemNutrients(dir string) ([]domain.ItemNutrient, error) {
	recs, err := readTable(dir, ItemNutrientsFile, []string{"item_id", "nutrient_id", "qty_per_unit"}, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ItemNutrient, 0, len(recs))
	for _, r := range recs {
		q, err := r.float("qty_per_unit", 0)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ItemNutrient{ItemID: r.get("item_id"), NutrientID: r.get("nutrient_id"), QtyPerUnit: q})
	}
	return out, nil
}

func loadRequirements(dir string) ([]domain.Requirement, error) {
	recs, err := readTable(dir, RequirementsFile, []string{"household_id", "nutrient_id", "requirement"}, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Requirement, 0, len(recs))
	for _, r := range recs {
		a, err := r.float("requirement", 0)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Requirement{HouseholdID: r.get("household_id"), NutrientID: r.get("nutrient_id"), Amount: a})
	}
	return out, nil
}

func loadBounds(dir string) ([]domain.AllocationBounds, error) {
	recs, err := readTable(dir, BoundsFile, []string{"item_id", "household_id"}, true)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AllocationBounds, 0, len(recs))
	for _, r := range recs {
		lo, err := r.float("lower", 0)
		if err != nil {
			return nil, err
		}
		b := domain.AllocationBounds{ItemID: r.get("item_id"), HouseholdID: r.get("household_id"), Lower: lo}
		if up := r.get("upper"); up != "" && !strings.EqualFold(up, "none") {
			v, err := r.float("upper", 0)
			if err != nil {
				return nil, err
			}
			b.Upper = domain.UpperBound(v)
		}
		out = append(out, b)
	}
	return out, nil
}

// applyFilters restricts `d` to the item and household ids listed under `items` and
// `households`. An absent or empty list keeps every entity. Relations referring to a removed
// entity are dropped.
func applyFilters(d domain.Data, filters *dial.Bundle) (domain.Data, error) {
	keepItems, err := idSet(filters, "items")
	if err != nil {
		return d, err
	}
	keepHouseholds, err := idSet(filters, "households")
	if err != nil {
		return d, err
	}
	item := func(id string) bool { return keepItems == nil || keepItems[id] }
	household := func(id string) bool { return keepHouseholds == nil || keepHouseholds[id] }

	out := domain.Data{Nutrients: d.Nutrients}
	for _, i := range d.Items {
		if item(i.ID) {
			out.Items = append(out.Items, i)
		}
	}
	for _, h := range d.Households {
		if household(h.ID) {
			out.Households = append(out.Households, h)
		}
	}
	for _, in := range d.ItemNutrients {
		if item(in.ItemID) {
			out.ItemNutrients = append(out.ItemNutrients, in)
		}
	}
	for _, r := range d.Requirements {
		if household(r.HouseholdID) {
			out.Requirements = append(out.Requirements, r)
		}
	}
	for _, b := range d.Bounds {
		if item(b.ItemID) && household(b.HouseholdID) {
			out.Bounds = append(out.Bounds, b)
		}
	}
	return out, nil
}

func idSet(filters *dial.Bundle, key string) (map[string]bool, error) {
	v, ok := filters.Value(key)
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%q must be a list of ids: %w", key, ErrInvalidScenario)
	}
	if len(list.GetValues()) == 0 {
		return nil, nil
	}
	set := make(map[string]bool, len(list.GetValues()))
	for _, e := range list.GetValues() {
		set[scalarString(e)] = true
	}
	return set, nil
}
