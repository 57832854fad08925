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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// termsPerLine is the number of terms written on a single line of an LP file, keeping lines
// well under the 510 characters accepted by LP readers.
const termsPerLine = 8

const objectiveRowName = "obj"

// nameMapper assigns unique, format-safe names to the variables and constraints of a model.
type nameMapper struct {
	sanitize func(string) string
	used     map[string]bool
}

func (nm *nameMapper) name(raw, fallback string) (string, error) {
	n := raw
	if n == "" {
		n = fallback
	}
	n = nm.sanitize(n)
	if nm.used[n] {
		return "", fmt.Errorf("name %q maps to %q which is already used", raw, n)
	}
	nm.used[n] = true
	return n, nil
}

func newNameMapper(sanitize func(string) string) *nameMapper {
	return &nameMapper{sanitize: sanitize, used: map[string]bool{objectiveRowName: true}}
}

func lpSafeName(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '[':
			sb.WriteRune('(')
		case r == ']':
			sb.WriteRune(')')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case strings.ContainsRune("!\"#$%&()/,.;?@_`'{}|~", r):
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if readsAsNumber(out) {
		out = "_" + out
	}
	return out
}

// readsAsNumber reports whether an LP name would be parsed as the start of a number: a leading
// digit or period, or an exponent marker alone or followed by a digit or another marker.
func readsAsNumber(s string) bool {
	if s == "" || strings.ContainsRune("0123456789.", rune(s[0])) {
		return true
	}
	if s[0] != 'e' && s[0] != 'E' {
		return false
	}
	return len(s) == 1 || strings.ContainsRune("0123456789eE", rune(s[1]))
}

func mpsSafeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= ' ' || r > '~' {
			return '_'
		}
		return r
	}, s)
}

func formatNumber(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func validateForExport(model *Model) error {
	if model == nil {
		return errors.New("nil model")
	}
	for i, v := range model.Variables {
		if err := NewBounds(v.Lower, v.Upper).validate(); err != nil {
			return fmt.Errorf("variable %v: %w", nameOrIndex(v.Name, i), err)
		}
	}
	for i, c := range model.Constraints {
		if math.IsNaN(c.Lower) || math.IsNaN(c.Upper) || c.Lower > c.Upper {
			return fmt.Errorf("constraint %v has bounds [%v,%v]: %w", nameOrIndex(c.Name, i), c.Lower, c.Upper, ErrInvalidBounds)
		}
		for _, t := range c.Terms {
			if int(t.Var) >= len(model.Variables) || t.Var < 0 {
				return fmt.Errorf("constraint %v references unknown variable %v", nameOrIndex(c.Name, i), t.Var)
			}
		}
	}
	for _, t := range model.Objective.Terms {
		if int(t.Var) >= len(model.Variables) || t.Var < 0 {
			return fmt.Errorf("objective references unknown variable %v", t.Var)
		}
	}
	return nil
}

func writeLpTerms(sb *strings.Builder, terms []Term, varNames []string) {
	for i, t := range terms {
		if i > 0 && i%termsPerLine == 0 {
			sb.WriteString("\n ")
		}
		sign := "+"
		if t.Coeff < 0 {
			sign = "-"
		}
		fmt.Fprintf(sb, " %s %s %s", sign, formatNumber(math.Abs(t.Coeff)), varNames[t.Var])
	}
}

// ExportModelAsLpFormat outputs the model as a string in the CPLEX LP format.
//
// Ranged constraints are written as two rows suffixed with `_lo` and `_hi`. Constraints with
// both sides unbounded are omitted. Binary variables are written as bounded general integers.
func ExportModelAsLpFormat(model *Model) (string, error) {
	if err := validateForExport(model); err != nil {
		return "", fmt.Errorf("cannot export an invalid model as LP format: %w", err)
	}

	names := newNameMapper(lpSafeName)
	varNames := make([]string, len(model.Variables))
	for i, v := range model.Variables {
		n, err := names.name(v.Name, fmt.Sprintf("_v%d", i))
		if err != nil {
			return "", fmt.Errorf("cannot export model as LP format: %w", err)
		}
		varNames[i] = n
	}

	var sb strings.Builder
	if model.Name != "" {
		fmt.Fprintf(&sb, "\\ Problem name: %s\n", model.Name)
	}
	if model.Objective.Maximize {
		sb.WriteString("Maximize\n")
	} else {
		sb.WriteString("Minimize\n")
	}
	sb.WriteString(" " + objectiveRowName + ":")
	writeLpTerms(&sb, model.Objective.Terms, varNames)
	if off := model.Objective.Offset; off != 0 {
		if off < 0 {
			fmt.Fprintf(&sb, " - %s", formatNumber(-off))
		} else {
			fmt.Fprintf(&sb, " + %s", formatNumber(off))
		}
	}
	sb.WriteString("\nSubject To\n")

	writeRow := func(name string, terms []Term, op string, rhs float64) {
		fmt.Fprintf(&sb, " %s:", name)
		if len(terms) == 0 && len(varNames) > 0 {
			fmt.Fprintf(&sb, " 0 %s", varNames[0])
		}
		writeLpTerms(&sb, terms, varNames)
		fmt.Fprintf(&sb, " %s %s\n", op, formatNumber(rhs))
	}
	for i, c := range model.Constraints {
		b := NewBounds(c.Lower, c.Upper)
		if b.IsFree() {
			continue
		}
		fallback := fmt.Sprintf("_c%d", i)
		switch {
		case c.Lower == c.Upper:
			n, err := names.name(c.Name, fallback)
			if err != nil {
				return "", fmt.Errorf("cannot export model as LP format: %w", err)
			}
			writeRow(n, c.Terms, "=", c.Upper)
		case math.IsInf(c.Lower, -1):
			n, err := names.name(c.Name, fallback)
			if err != nil {
				return "", fmt.Errorf("cannot export model as LP format: %w", err)
			}
			writeRow(n, c.Terms, "<=", c.Upper)
		case math.IsInf(c.Upper, 1):
			n, err := names.name(c.Name, fallback)
			if err != nil {
				return "", fmt.Errorf("cannot export model as LP format: %w", err)
			}
			writeRow(n, c.Terms, ">=", c.Lower)
		default:
			base := c.Name
			if base == "" {
				base = fallback
			}
			lo, err := names.name(base+"_lo", "")
			if err != nil {
				return "", fmt.Errorf("cannot export model as LP format: %w", err)
			}
			hi, err := names.name(base+"_hi", "")
			if err != nil {
				return "", fmt.Errorf("cannot export model as LP format: %w", err)
			}
			writeRow(lo, c.Terms, ">=", c.Lower)
			writeRow(hi, c.Terms, "<=", c.Upper)
		}
	}

	sb.WriteString("Bounds\n")
	var generals []string
	for i, v := range model.Variables {
		n := varNames[i]
		if v.Kind != Continuous {
			generals = append(generals, n)
		}
		switch {
		case v.Lower == v.Upper:
			fmt.Fprintf(&sb, " %s = %s\n", n, formatNumber(v.Upper))
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			fmt.Fprintf(&sb, " %s free\n", n)
		case v.Lower == 0 && math.IsInf(v.Upper, 1):
		default:
			fmt.Fprintf(&sb, " %s <= %s <= %s\n", formatNumber(v.Lower), n, formatNumber(v.Upper))
		}
	}
	if len(generals) > 0 {
		sb.WriteString("Generals\n")
		for i := 0; i < len(generals); i += termsPerLine {
			end := min(i+termsPerLine, len(generals))
			sb.WriteString(" " + strings.Join(generals[i:end], " ") + "\n")
		}
	}
	sb.WriteString("End\n")
	return sb.String(), nil
}

// ExportModelAsMpsFormat outputs the model as a string in the free MPS format.
//
// The objective sense is written in an OBJSENSE section. Integer and binary columns are
// enclosed in MARKER lines and always carry explicit bounds.
func ExportModelAsMpsFormat(model *Model) (string, error) {
	if err := validateForExport(model); err != nil {
		return "", fmt.Errorf("cannot export an invalid model as MPS format: %w", err)
	}

	names := newNameMapper(mpsSafeName)
	varNames := make([]string, len(model.Variables))
	for i, v := range model.Variables {
		n, err := names.name(v.Name, fmt.Sprintf("C%d", i))
		if err != nil {
			return "", fmt.Errorf("cannot export model as MPS format: %w", err)
		}
		varNames[i] = n
	}
	rowNames := make([]string, len(model.Constraints))
	for i, c := range model.Constraints {
		n, err := names.name(c.Name, fmt.Sprintf("R%d", i))
		if err != nil {
			return "", fmt.Errorf("cannot export model as MPS format: %w", err)
		}
		rowNames[i] = n
	}

	// Column-wise view of the constraint matrix.
	type entry struct {
		row   string
		coeff float64
	}
	columns := make([][]entry, len(model.Variables))
	for _, t := range model.Objective.Terms {
		columns[t.Var] = append(columns[t.Var], entry{objectiveRowName, t.Coeff})
	}
	for i, c := range model.Constraints {
		for _, t := range c.Terms {
			columns[t.Var] = append(columns[t.Var], entry{rowNames[i], t.Coeff})
		}
	}

	var sb strings.Builder
	name := model.Name
	if name == "" {
		name = "MODEL"
	}
	fmt.Fprintf(&sb, "NAME %s\n", mpsSafeName(name))
	sb.WriteString("OBJSENSE\n")
	if model.Objective.Maximize {
		sb.WriteString("    MAX\n")
	} else {
		sb.WriteString("    MIN\n")
	}
	sb.WriteString("ROWS\n")
	fmt.Fprintf(&sb, " N %s\n", objectiveRowName)
	for i, c := range model.Constraints {
		rowType := "N"
		switch {
		case c.Lower == c.Upper:
			rowType = "E"
		case !math.IsInf(c.Upper, 1):
			rowType = "L"
		case !math.IsInf(c.Lower, -1):
			rowType = "G"
		}
		fmt.Fprintf(&sb, " %s %s\n", rowType, rowNames[i])
	}

	sb.WriteString("COLUMNS\n")
	inMarker := false
	for i, v := range model.Variables {
		integral := v.Kind != Continuous
		if integral != inMarker {
			if integral {
				sb.WriteString("    MARKER 'MARKER' 'INTORG'\n")
			} else {
				sb.WriteString("    MARKER 'MARKER' 'INTEND'\n")
			}
			inMarker = integral
		}
		if len(columns[i]) == 0 {
			fmt.Fprintf(&sb, "    %s %s 0\n", varNames[i], objectiveRowName)
		}
		for _, e := range columns[i] {
			fmt.Fprintf(&sb, "    %s %s %s\n", varNames[i], e.row, formatNumber(e.coeff))
		}
	}
	if inMarker {
		sb.WriteString("    MARKER 'MARKER' 'INTEND'\n")
	}

	sb.WriteString("RHS\n")
	if off := model.Objective.Offset; off != 0 {
		fmt.Fprintf(&sb, "    RHS %s %s\n", objectiveRowName, formatNumber(-off))
	}
	var ranges []string
	for i, c := range model.Constraints {
		var rhs float64
		switch {
		case c.Lower == c.Upper:
			rhs = c.Upper
		case !math.IsInf(c.Upper, 1):
			rhs = c.Upper
			if !math.IsInf(c.Lower, -1) {
				ranges = append(ranges, fmt.Sprintf("    RNG %s %s\n", rowNames[i], formatNumber(c.Upper-c.Lower)))
			}
		case !math.IsInf(c.Lower, -1):
			rhs = c.Lower
		}
		if rhs != 0 {
			fmt.Fprintf(&sb, "    RHS %s %s\n", rowNames[i], formatNumber(rhs))
		}
	}
	if len(ranges) > 0 {
		sb.WriteString("RANGES\n")
		for _, r := range ranges {
			sb.WriteString(r)
		}
	}

	sb.WriteString("BOUNDS\n")
	for i, v := range model.Variables {
		n := varNames[i]
		switch {
		case v.Lower == v.Upper:
			fmt.Fprintf(&sb, " FX BND %s %s\n", n, formatNumber(v.Upper))
			continue
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			fmt.Fprintf(&sb, " FR BND %s\n", n)
			continue
		case math.IsInf(v.Lower, -1):
			fmt.Fprintf(&sb, " MI BND %s\n", n)
		case v.Lower != 0:
			fmt.Fprintf(&sb, " LO BND %s %s\n", n, formatNumber(v.Lower))
		}
		switch {
		case !math.IsInf(v.Upper, 1):
			fmt.Fprintf(&sb, " UP BND %s %s\n", n, formatNumber(v.Upper))
		case v.Kind != Continuous:
			fmt.Fprintf(&sb, " PL BND %s\n", n)
		}
	}
	sb.WriteString("ENDATA\n")
	return sb.String(), nil
}
