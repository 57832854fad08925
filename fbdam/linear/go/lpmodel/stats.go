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

import "strings"

// Stats summarizes the size of a Model.
type Stats struct {
	Variables   int
	Continuous  int
	Integer     int
	Binary      int
	Fixed       int
	Constraints int
	NonZeros    int
	// Families counts constraints by the part of their name before the first `[`. Unnamed
	// constraints are not counted.
	Families map[string]int
}

// Stats returns the size of the model.
func (m *Model) Stats() Stats {
	s := Stats{
		Variables:   len(m.Variables),
		Constraints: len(m.Constraints),
		Families:    make(map[string]int),
	}
	for _, v := range m.Variables {
		switch v.Kind {
		case Continuous:
			s.Continuous++
		case Integer:
			s.Integer++
		case Binary:
			s.Binary++
		}
		if NewBounds(v.Lower, v.Upper).IsFixed() {
			s.Fixed++
		}
	}
	for _, c := range m.Constraints {
		s.NonZeros += len(c.Terms)
		if c.Name == "" {
			continue
		}
		family, _, _ := strings.Cut(c.Name, "[")
		s.Families[family]++
	}
	return s
}
