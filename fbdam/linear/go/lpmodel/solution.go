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

package lpmodel

import (
	"fmt"
	"math"
)

// Status is the outcome of a solve.
type Status int

const (
	// Unknown means the solver stopped without a conclusion.
	Unknown Status = iota
	// Optimal means a proven optimal solution was found.
	Optimal
	// Feasible means a solution was found but optimality is not proven.
	Feasible
	// Infeasible means the model has no solution.
	Infeasible
	// Unbounded means the objective can be improved indefinitely.
	Unbounded
	// ModelInvalid means the solver rejected the model.
	ModelInvalid
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Optimal:
		return "OPTIMAL"
	case Feasible:
		return "FEASIBLE"
	case Infeasible:
		return "INFEASIBLE"
	case Unbounded:
		return "UNBOUNDED"
	case ModelInvalid:
		return "MODEL_INVALID"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// HasSolution returns true if the status carries variable values.
func (s Status) HasSolution() bool {
	return s == Optimal || s == Feasible
}

// Solution is the response of a Solver. `Values` is indexed by VarIndex and is empty when the
// status carries no solution.
type Solution struct {
	Status         Status
	ObjectiveValue float64
	Values         []float64
	// Solver is the name of the engine that produced the solution.
	Solver string
	// Relaxed is true when the solver dropped integrality and some integer variable has a
	// fractional value.
	Relaxed bool
}

// Solver solves a Model. A call blocks until the solve finishes.
type Solver interface {
	Solve(m *Model) (*Solution, error)
}

// SolutionValue returns the value of LinearArgument `la` in the solution.
func SolutionValue(s *Solution, la LinearArgument) float64 {
	return la.evaluateSolutionValue(s.Values)
}

// SolutionBooleanValue returns the value of binary Var `v` in the solution, rounding to the
// nearest integer.
func SolutionBooleanValue(s *Solution, v Var) bool {
	return math.Round(v.evaluateSolutionValue(s.Values)) != 0
}

// Activity returns the value of `sum(Terms)` for the given values.
func (c LinearConstraint) Activity(values []float64) float64 {
	var result float64
	for _, t := range c.Terms {
		result += values[t.Var] * t.Coeff
	}
	return result
}

// Evaluate returns the objective value for the given values.
func (o Objective) Evaluate(values []float64) float64 {
	result := o.Offset
	for _, t := range o.Terms {
		result += values[t.Var] * t.Coeff
	}
	return result
}

// Violation describes a variable or constraint whose value lies outside its bounds.
type Violation struct {
	// Name is the name of the variable or constraint, or `#<index>` if it has none.
	Name     string
	Variable bool
	Value    float64
	Bounds   Bounds
}

// Violations returns the variables and constraints of `m` violated by `values`, up to the
// absolute tolerance `tol`. Integrality is checked for integer and binary variables. An error
// is returned if the number of values does not match the number of variables.
func (m *Model) Violations(values []float64, tol float64) ([]Violation, error) {
	if len(values) != len(m.Variables) {
		return nil, fmt.Errorf("got %d values for %d variables", len(values), len(m.Variables))
	}
	var result []Violation
	for i, v := range m.Variables {
		b := NewBounds(v.Lower, v.Upper)
		val := values[i]
		integral := v.Kind == Continuous || math.Abs(val-math.Round(val)) <= tol
		if !b.Contains(val, tol) || !integral {
			result = append(result, Violation{Name: nameOrIndex(v.Name, i), Variable: true, Value: val, Bounds: b})
		}
	}
	for i, c := range m.Constraints {
		b := NewBounds(c.Lower, c.Upper)
		if act := c.Activity(values); !b.Contains(act, tol) {
			result = append(result, Violation{Name: nameOrIndex(c.Name, i), Value: act, Bounds: b})
		}
	}
	return result, nil
}

func nameOrIndex(name string, i int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("#%d", i)
}
