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

// Package lpmodel offers a user-friendly API to build linear and mixed-integer models.
//
// The `Builder` struct accumulates variables, linear constraints and a single objective, and
// provides helper methods for adding them to the model.
// The `Var` and `Constraint` structs are references to specific elements of the model under
// construction and provide helpful methods for interacting with those elements.
// The `LinearExpr` struct provides helper methods for creating constraints and the objective
// from expressions with many variables and coefficients.
// `Builder.Model()` returns an immutable `Model` that can be exported to the LP or MPS text
// formats and handed to a `Solver`.
package lpmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"

	log "github.com/golang/glog"
)

var (
	// ErrMixedModels holds the error when elements added to a model are different.
	ErrMixedModels = errors.New("elements are not part of the same model")
	// ErrDuplicateName holds the error when a variable or constraint name is reused.
	ErrDuplicateName = errors.New("name already exists")
	// ErrInvalidBounds holds the error when a variable or constraint has NaN or empty bounds.
	ErrInvalidBounds = errors.New("invalid bounds")
	// ErrInvalidCoefficient holds the error when a coefficient is NaN or infinite.
	ErrInvalidCoefficient = errors.New("invalid coefficient")
)

type (
	// VarIndex is the index of a variable in the model.
	VarIndex int32
	// ConstrIndex is the index of a constraint in the model.
	ConstrIndex int32
)

// VarKind is the integrality of a variable.
type VarKind int

const (
	// Continuous variables take any real value within their bounds.
	Continuous VarKind = iota
	// Integer variables take integral values within their bounds.
	Integer
	// Binary variables are integer variables restricted to [0,1].
	Binary
)

// String returns the name of the kind.
func (k VarKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("VarKind(%d)", int(k))
}

// LinearArgument provides an interface for Var and LinearExpr.
type LinearArgument interface {
	addToLinearExpr(e *LinearExpr, c float64)
	evaluateSolutionValue(values []float64) float64
}

// LinearExpr is a container for a linear expression.
type LinearExpr struct {
	varCoeffs []varCoeff
	offset    float64
}

type varCoeff struct {
	ind   VarIndex
	coeff float64
	b     *Builder
}

// Term is a single `coeff * var` product of a linear expression.
type Term struct {
	Var   VarIndex
	Coeff float64
}

// NewLinearExpr creates a new empty LinearExpr.
func NewLinearExpr() *LinearExpr {
	return &LinearExpr{}
}

// NewConstant creates and returns a LinearExpr containing the constant `c`.
func NewConstant(c float64) *LinearExpr {
	return &LinearExpr{offset: c}
}

// Add adds the linear argument term to the LinearExpr and returns itself.
func (l *LinearExpr) Add(la LinearArgument) *LinearExpr {
	l.AddTerm(la, 1)
	return l
}

// AddConstant adds the constant to the LinearExpr and returns itself.
func (l *LinearExpr) AddConstant(c float64) *LinearExpr {
	l.offset += c
	return l
}

// AddTerm adds the linear argument term with the given coefficient to the LinearExpr and returns itself.
func (l *LinearExpr) AddTerm(la LinearArgument, coeff float64) *LinearExpr {
	la.addToLinearExpr(l, coeff)
	return l
}

// AddSum adds the sum of the linear arguments to the LinearExpr and returns itself.
func (l *LinearExpr) AddSum(las ...LinearArgument) *LinearExpr {
	for _, la := range las {
		l.Add(la)
	}
	return l
}

// AddWeightedSum adds the linear arguments with the corresponding coefficients to the LinearExpr
// and returns itself.
func (l *LinearExpr) AddWeightedSum(las []LinearArgument, coeffs []float64) *LinearExpr {
	if len(coeffs) != len(las) {
		log.Fatalf("las and coeffs must be the same length: %v != %v", len(las), len(coeffs))
	}
	for i, la := range las {
		l.AddTerm(la, coeffs[i])
	}
	return l
}

// Offset returns the constant part of the expression.
func (l *LinearExpr) Offset() float64 {
	return l.offset
}

// Terms returns the variable part of the expression with repeated variables merged, sorted by
// variable index. Terms whose coefficients cancel out are dropped.
func (l *LinearExpr) Terms() []Term {
	sums := make(map[VarIndex]float64, len(l.varCoeffs))
	for _, vc := range l.varCoeffs {
		sums[vc.ind] += vc.coeff
	}
	terms := make([]Term, 0, len(sums))
	for ind, coeff := range sums {
		if coeff != 0 {
			terms = append(terms, Term{Var: ind, Coeff: coeff})
		}
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Var < terms[j].Var })
	return terms
}

func (l *LinearExpr) addToLinearExpr(e *LinearExpr, c float64) {
	for _, vc := range l.varCoeffs {
		e.varCoeffs = append(e.varCoeffs, varCoeff{ind: vc.ind, coeff: vc.coeff * c, b: vc.b})
	}
	e.offset += l.offset * c
}

func (l *LinearExpr) evaluateSolutionValue(values []float64) float64 {
	result := l.offset

	for _, vc := range l.varCoeffs {
		result += values[vc.ind] * vc.coeff
	}

	return result
}

// Var is a reference to a variable in the model.
type Var struct {
	ind VarIndex
	b   *Builder
}

// Name returns the name of the variable.
func (v Var) Name() string {
	return v.b.vars[v.ind].name
}

// Bounds returns the bounds of the variable.
func (v Var) Bounds() Bounds {
	return v.b.vars[v.ind].bounds
}

// Kind returns the integrality of the variable.
func (v Var) Kind() VarKind {
	return v.b.vars[v.ind].kind
}

// Index returns the index of the variable.
func (v Var) Index() VarIndex {
	return v.ind
}

// WithName sets the name of the variable. Reusing the name of another variable records an
// error on the builder and leaves the name unchanged.
func (v Var) WithName(s string) Var {
	v.b.renameVar(v.ind, s)
	return v
}

// Fix restricts the variable to the single value `val`.
func (v Var) Fix(val float64) Var {
	return v.SetBounds(val, val)
}

// SetBounds replaces the bounds of the variable.
func (v Var) SetBounds(lb, ub float64) Var {
	bounds := NewBounds(lb, ub)
	if v.Kind() == Binary {
		bounds = bounds.Intersect(NewBounds(0, 1))
	}
	if err := bounds.validate(); err != nil {
		v.b.setErrorf("variable %q: %w", v.Name(), err)
		return v
	}
	v.b.vars[v.ind].bounds = bounds
	return v
}

func (v Var) addToLinearExpr(e *LinearExpr, c float64) {
	e.varCoeffs = append(e.varCoeffs, varCoeff{ind: v.ind, coeff: c, b: v.b})
}

func (v Var) evaluateSolutionValue(values []float64) float64 {
	return values[v.ind]
}

// Constraint is a reference to a linear constraint in the model.
type Constraint struct {
	ind ConstrIndex
	b   *Builder
}

// WithName sets the name of the constraint. Reusing the name of another constraint records an
// error on the builder and leaves the name unchanged.
func (c Constraint) WithName(s string) Constraint {
	c.b.renameConstraint(c.ind, s)
	return c
}

// Name returns the name of the constraint.
func (c Constraint) Name() string {
	return c.b.cons[c.ind].name
}

// Index returns the index of the constraint.
func (c Constraint) Index() ConstrIndex {
	return c.ind
}

// Bounds returns the range of the constraint activity, the constant offset of the expression
// having been moved into the bounds.
func (c Constraint) Bounds() Bounds {
	return c.b.cons[c.ind].bounds
}

// Terms returns a copy of the variable part of the constraint.
func (c Constraint) Terms() []Term {
	return append([]Term(nil), c.b.cons[c.ind].terms...)
}

type variable struct {
	name   string
	bounds Bounds
	kind   VarKind
}

type linearConstraint struct {
	name   string
	terms  []Term
	bounds Bounds
}

// checkSameModelAndSetErrorf returns true if `b` and `b2` point to the same Builder.
// If false, an error with the error message `errString` is set on `b` if `b.err`
// is nil.
func (b *Builder) checkSameModelAndSetErrorf(b2 *Builder, format string, a ...any) bool {
	if b == b2 {
		return true
	}
	var args = make([]any, len(a)+1)
	copy(args, a)
	args[len(a)] = ErrMixedModels
	b.setErrorf(format+": %w", args...)
	return false
}

// setErrorf records the error if it is the first one and logs it.
func (b *Builder) setErrorf(format string, a ...any) {
	err := fmt.Errorf(format, a...)
	log.Errorf("%v; use `-log_backtrace_at` flag to get the error stack", err)
	if b.err == nil {
		b.err = err
	}
}

// Builder accumulates the variables, constraints and objective of a linear model.
type Builder struct {
	name      string
	vars      []*variable
	cons      []*linearConstraint
	obj       Objective
	varNames  map[string]VarIndex
	consNames map[string]ConstrIndex
	// The first and only the first error is reported in Model.
	err error
}

// NewModelBuilder creates and returns a new model Builder.
func NewModelBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		varNames:  make(map[string]VarIndex),
		consNames: make(map[string]ConstrIndex),
	}
}

// NewVar creates and returns a new variable.
//
// Make `name` an empty string if the variable does not need a name. Otherwise an error is
// recorded if the provided `name` already exists as a variable name. Binary variables have
// their bounds intersected with [0,1].
func (b *Builder) NewVar(lb, ub float64, kind VarKind, name string) Var {
	v := Var{b: b, ind: VarIndex(len(b.vars))}

	bounds := NewBounds(lb, ub)
	if kind == Binary {
		bounds = bounds.Intersect(NewBounds(0, 1))
	}
	if err := bounds.validate(); err != nil {
		b.setErrorf("variable %q: %w", name, err)
		bounds = Fixed(0)
	}
	b.vars = append(b.vars, &variable{bounds: bounds, kind: kind})
	b.renameVar(v.ind, name)

	return v
}

// NewContinuousVar creates a new continuous variable in `[lb,ub]`.
func (b *Builder) NewContinuousVar(lb, ub float64, name string) Var {
	return b.NewVar(lb, ub, Continuous, name)
}

// NewIntegerVar creates a new integer variable in `[lb,ub]`.
func (b *Builder) NewIntegerVar(lb, ub float64, name string) Var {
	return b.NewVar(lb, ub, Integer, name)
}

// NewBoolVar creates a new binary variable.
func (b *Builder) NewBoolVar(name string) Var {
	return b.NewVar(0, 1, Binary, name)
}

func (b *Builder) renameVar(ind VarIndex, name string) bool {
	old := b.vars[ind].name
	if name == old {
		return true
	}
	if name != "" {
		if _, ok := b.varNames[name]; ok {
			b.setErrorf("variable with name %q: %w", name, ErrDuplicateName)
			return false
		}
		b.varNames[name] = ind
	}
	if old != "" {
		delete(b.varNames, old)
	}
	b.vars[ind].name = name
	return true
}

func (b *Builder) renameConstraint(ind ConstrIndex, name string) bool {
	old := b.cons[ind].name
	if name == old {
		return true
	}
	if name != "" {
		if _, ok := b.consNames[name]; ok {
			b.setErrorf("constraint with name %q: %w", name, ErrDuplicateName)
			return false
		}
		b.consNames[name] = ind
	}
	if old != "" {
		delete(b.consNames, old)
	}
	b.cons[ind].name = name
	return true
}

// LookupVar returns the variable with the given name, and false if not found.
func (b *Builder) LookupVar(name string) (Var, bool) {
	ind, ok := b.varNames[name]
	if !ok {
		return Var{}, false
	}
	return Var{b: b, ind: ind}, true
}

// LookupConstraint returns the constraint with the given name, and false if not found.
func (b *Builder) LookupConstraint(name string) (Constraint, bool) {
	ind, ok := b.consNames[name]
	if !ok {
		return Constraint{}, false
	}
	return Constraint{b: b, ind: ind}, true
}

// NumVariables returns the number of variables created so far.
func (b *Builder) NumVariables() int {
	return len(b.vars)
}

// NumConstraints returns the number of constraints added so far.
func (b *Builder) NumConstraints() int {
	return len(b.cons)
}

// Err returns the first error recorded while building, if any.
func (b *Builder) Err() error {
	return b.err
}

// checkExpr verifies that every variable of `le` belongs to `b` and that every coefficient is
// finite.
func (b *Builder) checkExpr(le *LinearExpr, what string) bool {
	for _, vc := range le.varCoeffs {
		if !b.checkSameModelAndSetErrorf(vc.b, "invalid variable %v added to %v", vc.ind, what) {
			return false
		}
		if math.IsNaN(vc.coeff) || math.IsInf(vc.coeff, 0) {
			b.setErrorf("coefficient %v of variable %v in %v: %w", vc.coeff, vc.ind, what, ErrInvalidCoefficient)
			return false
		}
	}
	if math.IsNaN(le.offset) || math.IsInf(le.offset, 0) {
		b.setErrorf("constant %v in %v: %w", le.offset, what, ErrInvalidCoefficient)
		return false
	}
	return true
}

// addLinearConstraint adds a linear constraint that enforces the value of `le` to be in
// `bounds`. The constant offset of `le` is subtracted from the bounds. See `Offset()` for
// more details.
func (b *Builder) addLinearConstraint(le *LinearExpr, bounds Bounds) Constraint {
	c := Constraint{b: b, ind: ConstrIndex(len(b.cons))}
	what := fmt.Sprintf("constraint %v", c.ind)

	row := &linearConstraint{bounds: bounds.Offset(-le.offset)}
	if b.checkExpr(le, what) {
		row.terms = le.Terms()
	}
	if math.IsNaN(bounds.Lower) || math.IsNaN(bounds.Upper) {
		b.setErrorf("%v has bounds %v: %w", what, bounds, ErrInvalidBounds)
	}
	b.cons = append(b.cons, row)

	return c
}

// AddLinearConstraint adds the linear constraint `lb <= expr <= ub`.
func (b *Builder) AddLinearConstraint(expr LinearArgument, lb, ub float64) Constraint {
	linExpr := NewLinearExpr().Add(expr)
	return b.addLinearConstraint(linExpr, NewBounds(lb, ub))
}

// AddEquality adds the linear constraint `lhs == rhs`.
func (b *Builder) AddEquality(lhs LinearArgument, rhs LinearArgument) Constraint {
	diff := NewLinearExpr().Add(lhs).AddTerm(rhs, -1)

	return b.addLinearConstraint(diff, Fixed(0))
}

// AddLessOrEqual adds the linear constraint `lhs <= rhs`.
func (b *Builder) AddLessOrEqual(lhs LinearArgument, rhs LinearArgument) Constraint {
	diff := NewLinearExpr().Add(lhs).AddTerm(rhs, -1)

	return b.addLinearConstraint(diff, NewBounds(math.Inf(-1), 0))
}

// AddGreaterOrEqual adds the linear constraint `lhs >= rhs`.
func (b *Builder) AddGreaterOrEqual(lhs LinearArgument, rhs LinearArgument) Constraint {
	diff := NewLinearExpr().Add(lhs).AddTerm(rhs, -1)

	return b.addLinearConstraint(diff, NewBounds(0, math.Inf(1)))
}

func (b *Builder) setObjective(obj LinearArgument, maximize bool) {
	o := NewLinearExpr().Add(obj)
	if !b.checkExpr(o, "objective") {
		return
	}
	b.obj = Objective{Maximize: maximize, Terms: o.Terms(), Offset: o.offset}
}

// Minimize sets a linear minimization objective, replacing any previous objective.
func (b *Builder) Minimize(obj LinearArgument) {
	b.setObjective(obj, false)
}

// Maximize sets a linear maximization objective, replacing any previous objective.
func (b *Builder) Maximize(obj LinearArgument) {
	b.setObjective(obj, true)
}

// Variable is a variable of a built Model.
type Variable struct {
	Name  string
	Lower float64
	Upper float64
	Kind  VarKind
}

// LinearConstraint is a named row `Lower <= sum(Terms) <= Upper` of a built Model.
type LinearConstraint struct {
	Name  string
	Terms []Term
	Lower float64
	Upper float64
}

// Objective is the linear objective of a Model. An objective without terms is a feasibility
// problem.
type Objective struct {
	Maximize bool
	Terms    []Term
	Offset   float64
}

// Model is an immutable linear or mixed-integer model.
type Model struct {
	Name        string
	Variables   []Variable
	Constraints []LinearConstraint
	Objective   Objective
}

// Model returns a copy of the model built so far. Later calls to the Builder API do not affect
// the returned model.
//
// Model returns an error when invalid parameters have been used during model building (e.g.
// passing variables from other builders or reusing a name).
func (b *Builder) Model() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := &Model{
		Name:        b.name,
		Variables:   make([]Variable, len(b.vars)),
		Constraints: make([]LinearConstraint, len(b.cons)),
		Objective: Objective{
			Maximize: b.obj.Maximize,
			Terms:    append([]Term(nil), b.obj.Terms...),
			Offset:   b.obj.Offset,
		},
	}
	for i, v := range b.vars {
		m.Variables[i] = Variable{Name: v.name, Lower: v.bounds.Lower, Upper: v.bounds.Upper, Kind: v.kind}
	}
	for i, c := range b.cons {
		m.Constraints[i] = LinearConstraint{
			Name:  c.name,
			Terms: append([]Term(nil), c.terms...),
			Lower: c.bounds.Lower,
			Upper: c.bounds.Upper,
		}
	}
	return m, nil
}

// VarIndexByName returns the index of the variable named `name`, and false if not found.
func (m *Model) VarIndexByName(name string) (VarIndex, bool) {
	for i, v := range m.Variables {
		if v.Name == name {
			return VarIndex(i), true
		}
	}
	return 0, false
}

// ConstraintByName returns the constraint named `name`, and false if not found.
func (m *Model) ConstraintByName(name string) (LinearConstraint, bool) {
	for _, c := range m.Constraints {
		if c.Name == name {
			return c, true
		}
	}
	return LinearConstraint{}, false
}

// IsMIP returns true if at least one variable is integer or binary.
func (m *Model) IsMIP() bool {
	for _, v := range m.Variables {
		if v.Kind != Continuous {
			return true
		}
	}
	return false
}
