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

// Bounds stores the closed interval `[Lower,Upper]`. Infinite values represent an unbounded
// side. If `Lower` is greater than `Upper`, the interval is considered empty.
type Bounds struct {
	Lower float64
	Upper float64
}

// NewBounds creates the interval `[lb,ub]`.
func NewBounds(lb, ub float64) Bounds {
	return Bounds{Lower: lb, Upper: ub}
}

// Free returns the interval `(-inf,+inf)`.
func Free() Bounds {
	return Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// NonNegative returns the interval `[0,+inf)`.
func NonNegative() Bounds {
	return Bounds{Lower: 0, Upper: math.Inf(1)}
}

// Fixed returns the singleton interval `[v,v]`.
func Fixed(v float64) Bounds {
	return Bounds{Lower: v, Upper: v}
}

// checkInfAndAdd adds `delta` to `v` unless `v` is infinite, in which case the unbounded side is
// kept as is.
func checkInfAndAdd(v, delta float64) float64 {
	if math.IsInf(v, 0) {
		return v
	}
	return v + delta
}

// Offset adds an offset to both sides of the interval. Infinite sides are left untouched since
// they represent an unbounded interval.
func (b Bounds) Offset(delta float64) Bounds {
	return Bounds{checkInfAndAdd(b.Lower, delta), checkInfAndAdd(b.Upper, delta)}
}

// Intersect returns the intersection of `b` and `o`.
func (b Bounds) Intersect(o Bounds) Bounds {
	return Bounds{math.Max(b.Lower, o.Lower), math.Min(b.Upper, o.Upper)}
}

// IsEmpty returns true if the interval contains no value.
func (b Bounds) IsEmpty() bool {
	return b.Lower > b.Upper
}

// IsFixed returns true if the interval is a single finite value.
func (b Bounds) IsFixed() bool {
	return b.Lower == b.Upper && !math.IsInf(b.Lower, 0)
}

// IsFree returns true if both sides are unbounded.
func (b Bounds) IsFree() bool {
	return math.IsInf(b.Lower, -1) && math.IsInf(b.Upper, 1)
}

// Contains returns true if `v` lies in the interval, up to the absolute tolerance `tol`.
func (b Bounds) Contains(v, tol float64) bool {
	return v >= b.Lower-tol && v <= b.Upper+tol
}

// validate returns an error if the interval cannot be used as a variable or row range.
func (b Bounds) validate() error {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return fmt.Errorf("bounds %v contain NaN: %w", b, ErrInvalidBounds)
	}
	if math.IsInf(b.Lower, 1) || math.IsInf(b.Upper, -1) {
		return fmt.Errorf("bounds %v are unsatisfiable: %w", b, ErrInvalidBounds)
	}
	if b.IsEmpty() {
		return fmt.Errorf("bounds %v are empty: %w", b, ErrInvalidBounds)
	}
	return nil
}

// String returns the interval as `[lb,ub]`.
func (b Bounds) String() string {
	return fmt.Sprintf("[%v,%v]", b.Lower, b.Upper)
}
