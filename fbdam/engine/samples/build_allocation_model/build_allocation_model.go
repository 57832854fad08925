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

// The build_allocation_model command loads a scenario, assembles its allocation model and
// exports it in LP or MPS format. With --solve the linear relaxation is solved and the KPIs are
// printed as JSON. With --grid the model is rebuilt for every combination of dial values, e.g.
//
//	build_allocation_model --scenario=configs/scenario/a1.yaml --grid=alpha=0.1|0.5 --grid=beta=0.2
//
// Every flag can also be set through an FBDAM_ environment variable, such as FBDAM_SCENARIO.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/fbdam/fbdam/fbdam/engine/go/composer"
	"github.com/fbdam/fbdam/fbdam/engine/go/kpi"
	"github.com/fbdam/fbdam/fbdam/engine/go/matrix"
	"github.com/fbdam/fbdam/fbdam/engine/go/scenario"
	"github.com/fbdam/fbdam/fbdam/linear/go/lpmodel"
	"github.com/fbdam/fbdam/fbdam/linear/go/simplex"
)

var jsonOptions = protojson.MarshalOptions{Multiline: true, Indent: "  "}

func init() {
	pflag.String("scenario", "", "path of the scenario YAML file")
	pflag.String("format", "lp", "export format: lp, mps or none")
	pflag.String("output", "", "file receiving the exported model, stdout when empty")
	pflag.Bool("solve", false, "solve the linear relaxation and print the KPIs")
	pflag.Bool("print_params", false, "print the resolved scenario parameters")
	pflag.StringArray("grid", nil, "dial axis as name=v1|v2|..., repeatable")
	pflag.Int("workers", 0, "number of grid variants processed at once, 0 for GOMAXPROCS")
}

func printJSON(m proto.Message) error {
	raw, err := jsonOptions.Marshal(m)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// solverFor returns the solver configured by the scenario.
func solverFor(sc *scenario.Scenario) (lpmodel.Solver, error) {
	if sc.Solver.Name != simplex.Name {
		log.Warningf("solver %q is not available, using %q", sc.Solver.Name, simplex.Name)
	}
	tol, _, err := sc.Solver.Options.Float("tolerance")
	if err != nil {
		return nil, err
	}
	return simplex.Solver{Tolerance: tol}, nil
}

func export(m *lpmodel.Model, format, output string) error {
	var text string
	var err error
	switch strings.ToLower(format) {
	case "none":
		return nil
	case "lp":
		text, err = lpmodel.ExportModelAsLpFormat(m)
	case "mps":
		text, err = lpmodel.ExportModelAsMpsFormat(m)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	if output == "" {
		fmt.Print(text)
		return nil
	}
	return os.WriteFile(output, []byte(text), 0o644)
}

// parseAxes parses `name=v1|v2` entries.
func parseAxes(entries []string) (map[string][]float64, error) {
	axes := make(map[string][]float64, len(entries))
	for _, e := range entries {
		name, values, ok := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("grid axis %q is not name=v1|v2", e)
		}
		for _, v := range strings.Split(values, "|") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("grid axis %q: %w", e, err)
			}
			axes[name] = append(axes[name], f)
		}
	}
	return axes, nil
}

func runGrid(sc *scenario.Scenario, entries []string) error {
	axes, err := parseAxes(entries)
	if err != nil {
		return err
	}
	variants, err := matrix.Grid(axes)
	if err != nil {
		return err
	}
	opts := matrix.Options{Workers: viper.GetInt("workers")}
	if viper.GetBool("solve") {
		if opts.Solver, err = solverFor(sc); err != nil {
			return err
		}
	}
	results, err := matrix.Run(context.Background(), sc, variants, opts)
	if err != nil {
		return err
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("%s: error: %v\n", r.Variant, r.Err)
		case r.Solution == nil:
			stats := r.Model.LP.Stats()
			fmt.Printf("%s: %d variables, %d constraints, fingerprint %s\n", r.Variant, stats.Variables, stats.Constraints, r.Model.Fingerprint)
		default:
			fmt.Printf("%s: %v objective=%.5f relaxed=%v\n", r.Variant, r.Solution.Status, r.Solution.ObjectiveValue, r.Solution.Relaxed)
		}
	}
	return nil
}

func buildAllocationModel() error {
	path := viper.GetString("scenario")
	if path == "" {
		return errors.New("--scenario is required")
	}
	sc, err := scenario.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load the scenario: %w", err)
	}
	if viper.GetBool("print_params") {
		if err := printJSON(sc.Params.Struct()); err != nil {
			return err
		}
	}
	if grid := viper.GetStringSlice("grid"); len(grid) > 0 {
		return runGrid(sc, grid)
	}

	m, err := composer.Build(sc)
	if err != nil {
		return fmt.Errorf("failed to build the model: %w", err)
	}
	stats := m.LP.Stats()
	log.Infof("model %q: %d variables (%d integer), %d constraints, %d nonzeros, fingerprint %s",
		m.LP.Name, stats.Variables, stats.Integer, stats.Constraints, stats.NonZeros, m.Fingerprint)
	for _, f := range m.Families {
		log.Infof("  %-32s %d rows", f.Name, f.Rows)
	}
	if err := export(m.LP, viper.GetString("format"), viper.GetString("output")); err != nil {
		return fmt.Errorf("failed to export the model: %w", err)
	}
	if !viper.GetBool("solve") {
		return nil
	}

	solver, err := solverFor(sc)
	if err != nil {
		return err
	}
	sol, err := solver.Solve(m.LP)
	if err != nil {
		return fmt.Errorf("failed to solve the model: %w", err)
	}
	report, err := kpi.Compute(m, sol)
	if err != nil {
		return err
	}
	st, err := report.AsStruct()
	if err != nil {
		return err
	}
	return printJSON(st)
}

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	viper.SetEnvPrefix("FBDAM")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Exitf("failed to bind flags: %v", err)
	}
	if err := buildAllocationModel(); err != nil {
		log.Exitf("buildAllocationModel returned with error: %v", err)
	}
}
