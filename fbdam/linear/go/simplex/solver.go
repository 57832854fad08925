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

// Package simplex solves the linear relaxation of an lpmodel.Model with gonum's simplex
// implementation.
//
// Integrality is dropped: integer and binary variables are treated as continuous and the
// returned solution reports whether any of them ended up fractional. The solver is meant for
// small models, tests and sanity checks, not as a replacement for a MIP engine.
package simplex

import (
	"errors"
	"fmt"
	"math"

	log "github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
)

// Name is the solver name reported in solutions.
const Name = "gonum-simplex"

// DefaultTolerance is used when Solver.Tolerance is not positive.
const DefaultTolerance = 1e-9

// Solver solves linear relaxations. The zero value is ready to use.
type Solver struct {
	// Tolerance is passed to the simplex and used for integrality checks.
	Tolerance float64
}

var _ lpmodel.Solver = Solver{}

func (s Solver) tol() float64 {
	if s.Tolerance > 0 {
		return s.Tolerance
	}
	return DefaultTolerance
}

// column maps a model variable to standard-form columns: the value of the variable is
// `offset + sign*x[col] - x[neg]`, where a negative index means the column is absent.
type column struct {
	offset float64
	sign   float64
	col    int
	neg    int
}

type row struct {
	coeffs map[int]float64
	rhs    float64
}

// standardForm is `min c.x` subject to `A x = b`, `x >= 0`.
type standardForm struct {
	c    []float64
	rows []row
	cols []column
}

func (f *standardForm) newColumn(cost float64) int {
	f.c = append(f.c, cost)
	return len(f.c) - 1
}

// addRow adds `coeffs.x + slack*s = rhs` where s is a new column when slack is non-zero.
func (f *standardForm) addRow(coeffs map[int]float64, slack, rhs float64) {
	r := row{coeffs: make(map[int]float64, len(coeffs)+1), rhs: rhs}
	for j, a := range coeffs {
		r.coeffs[j] = a
	}
	if slack != 0 {
		r.coeffs[f.newColumn(0)] = slack
	}
	f.rows = append(f.rows, r)
}

// dense returns A and b, with rows negated so that b >= 0.
func (f *standardForm) dense() (*mat.Dense, []float64) {
	width := len(f.c)
	a := mat.NewDense(len(f.rows), width, nil)
	b := make([]float64, len(f.rows))
	for i, r := range f.rows {
		sign := 1.0
		if r.rhs < 0 {
			sign = -1
		}
		for j, v := range r.coeffs {
			a.Set(i, j, sign*v)
		}
		b[i] = sign * r.rhs
	}
	return a, b
}

// buildStandardForm converts `m` into a minimization in standard form. Fixed variables and
// variables that appear in no constraint are eliminated at the bound the objective prefers. A
// status other than Unknown means the outcome was decided without running the simplex.
func (s Solver) buildStandardForm(m *lpmodel.Model) (*standardForm, lpmodel.Status, error) {
	n := len(m.Variables)
	cost := make([]float64, n)
	for _, t := range m.Objective.Terms {
		if int(t.Var) >= n || t.Var < 0 {
			return nil, lpmodel.ModelInvalid, fmt.Errorf("simplex: objective references unknown variable %v", t.Var)
		}
		cost[t.Var] += t.Coeff
	}
	if m.Objective.Maximize {
		for i := range cost {
			cost[i] = -cost[i]
		}
	}
	used := make([]bool, n)
	for _, c := range m.Constraints {
		for _, t := range c.Terms {
			if int(t.Var) >= n || t.Var < 0 {
				return nil, lpmodel.ModelInvalid, fmt.Errorf("simplex: constraint %q references unknown variable %v", c.Name, t.Var)
			}
			if t.Coeff != 0 {
				used[t.Var] = true
			}
		}
	}

	f := &standardForm{cols: make([]column, n)}
	for i, v := range m.Variables {
		lo, up := v.Lower, v.Upper
		if math.IsNaN(lo) || math.IsNaN(up) || lo > up {
			return nil, lpmodel.ModelInvalid, fmt.Errorf("simplex: variable %q has bounds [%v, %v]: %w", v.Name, lo, up, lpmodel.ErrInvalidBounds)
		}
		col := column{sign: 1, col: -1, neg: -1}
		switch {
		case lo == up:
			col.offset = lo
		case !used[i]:
			val, ok := preferredBound(lo, up, cost[i])
			if !ok {
				return f, lpmodel.Unbounded, nil
			}
			col.offset = val
		case !math.IsInf(lo, -1):
			col.offset = lo
			col.col = f.newColumn(cost[i])
			if !math.IsInf(up, 1) {
				f.addRow(map[int]float64{col.col: 1}, 1, up-lo)
			}
		case !math.IsInf(up, 1):
			col.offset = up
			col.sign = -1
			col.col = f.newColumn(-cost[i])
		default:
			col.col = f.newColumn(cost[i])
			col.neg = f.newColumn(-cost[i])
		}
		f.cols[i] = col
	}

	tol := s.tol()
	for _, c := range m.Constraints {
		coeffs := make(map[int]float64)
		constant := 0.0
		for _, t := range c.Terms {
			col := f.cols[t.Var]
			constant += t.Coeff * col.offset
			if col.col >= 0 {
				coeffs[col.col] += t.Coeff * col.sign
			}
			if col.neg >= 0 {
				coeffs[col.neg] -= t.Coeff
			}
		}
		for j, a := range coeffs {
			if a == 0 {
				delete(coeffs, j)
			}
		}
		lo, up := c.Lower-constant, c.Upper-constant
		if len(coeffs) == 0 {
			if lo > tol || up < -tol {
				log.V(1).Infof("simplex: constraint %q is violated by fixed variables", c.Name)
				return f, lpmodel.Infeasible, nil
			}
			continue
		}
		switch {
		case lo == up:
			f.addRow(coeffs, 0, lo)
		default:
			if !math.IsInf(up, 1) {
				f.addRow(coeffs, 1, up)
			}
			if !math.IsInf(lo, -1) {
				f.addRow(coeffs, -1, lo)
			}
		}
	}
	return f, lpmodel.Unknown, nil
}

// preferredBound returns the bound a variable absent from every constraint takes at the
// optimum of `min cost*v`, and false if that bound is infinite.
func preferredBound(lo, up, cost float64) (float64, bool) {
	switch {
	case cost > 0:
		return lo, !math.IsInf(lo, -1)
	case cost < 0:
		return up, !math.IsInf(up, 1)
	case !math.IsInf(lo, -1):
		return lo, true
	case !math.IsInf(up, 1):
		return up, true
	}
	return 0, true
}

// Solve solves the linear relaxation of `m`. Infeasible and unbounded relaxations are reported
// through the solution status; an error is returned when gonum rejects the problem.
func (s Solver) Solve(m *lpmodel.Model) (*lpmodel.Solution, error) {
	if m == nil {
		return nil, errors.New("simplex: nil model")
	}
	sol := &lpmodel.Solution{Solver: Name}
	f, status, err := s.buildStandardForm(m)
	if err != nil {
		return nil, err
	}
	if status != lpmodel.Unknown {
		sol.Status = status
		return sol, nil
	}

	width := len(f.c)
	x := make([]float64, width)
	if len(f.rows) > 0 {
		if len(f.rows) > width {
			return nil, fmt.Errorf("simplex: %d rows for %d columns", len(f.rows), width)
		}
		a, b := f.dense()
		_, optX, err := lp.Simplex(f.c, a, b, s.tol(), nil)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			sol.Status = lpmodel.Infeasible
			return sol, nil
		case errors.Is(err, lp.ErrUnbounded):
			sol.Status = lpmodel.Unbounded
			return sol, nil
		case err != nil:
			return nil, fmt.Errorf("simplex on %d x %d problem: %w", len(f.rows), width, err)
		}
		x = optX
	} else {
		// Every remaining column is free of constraints and non-negative.
		for _, c := range f.c {
			if c < 0 {
				sol.Status = lpmodel.Unbounded
				return sol, nil
			}
		}
	}

	sol.Values = make([]float64, len(m.Variables))
	for i, col := range f.cols {
		v := col.offset
		if col.col >= 0 {
			v += col.sign * x[col.col]
		}
		if col.neg >= 0 {
			v -= x[col.neg]
		}
		sol.Values[i] = v
	}
	sol.Status = lpmodel.Optimal
	sol.ObjectiveValue = m.Objective.Evaluate(sol.Values)
	for i, v := range m.Variables {
		if v.Kind != lpmodel.Continuous && math.Abs(sol.Values[i]-math.Round(sol.Values[i])) > math.Sqrt(s.tol()) {
			sol.Relaxed = true
			break
		}
	}
	log.V(1).Infof("simplex: model %q solved, objective %v, relaxed %v", m.Name, sol.ObjectiveValue, sol.Relaxed)
	return sol, nil
}
