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
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// Registered objective procedure names.
const (
	SumUtilityName      = "sum_utility"
	TotalAllocationName = "total_allocation"
)

func init() {
	mustRegister(RegisterObjective(SumUtilityName, setSumUtility))
	mustRegister(RegisterObjective(TotalAllocationName, setTotalAllocation))
}

func weight(p Params) (float64, error) {
	w, ok, err := p.Local.Float("weight")
	if err != nil || !ok {
		return 1, err
	}
	return w, nil
}

func setObjective(s *Substrate, expr *lpmodel.LinearExpr, sense Sense) error {
	b := s.Builder()
	if sense == Minimize {
		b.Minimize(expr)
	} else {
		b.Maximize(expr)
	}
	return b.Err()
}

// setSumUtility sets `weight * sum(u) - lambda * epsilon`.
func setSumUtility(s *Substrate, p Params, sense Sense) error {
	w, err := weight(p)
	if err != nil {
		return err
	}
	obj := lpmodel.NewLinearExpr().AddTerm(s.TotalUtility(), w)
	lambda, ok, err := p.Lambda()
	if err != nil {
		return err
	}
	if ok && lambda != 0 {
		obj.AddTerm(s.Epsilon(), -lambda)
	}
	return setObjective(s, obj, sense)
}

func setTotalAllocation(s *Substrate, p Params, sense Sense) error {
	w, err := weight(p)
	if err != nil {
		return err
	}
	return setObjective(s, lpmodel.NewLinearExpr().AddTerm(s.TotalAllocated(), w), sense)
}
