// veldsema is the debug harness for the Veld semantic-analysis core: it
// replays a YAML compilation-unit fixture through a full analysis session
// and prints the resulting diagnostics and dispatch decisions. The
// production compiler front end feeds the same session API directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"veld/sema/pkg/diag"
	"veld/sema/pkg/driver"
)

const version = "veldsema 0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "veldsema",
		Short:         "Semantic analysis harness for the Veld compiler core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newCheckCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the harness version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

// report is the YAML shape of a check run.
type report struct {
	Unit        string              `yaml:"unit"`
	Functions   map[string]string   `yaml:"functions"`
	Calls       map[string]string   `yaml:"calls,omitempty"`
	Instances   []string            `yaml:"instances,omitempty"`
	Tables      map[string][]string `yaml:"tables,omitempty"`
	Diagnostics []reportDiag        `yaml:"diagnostics,omitempty"`
}

type reportDiag struct {
	Kind    string   `yaml:"kind"`
	At      string   `yaml:"at"`
	Related []string `yaml:"related,omitempty"`
	Message string   `yaml:"message"`
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <unit.yml>",
		Short: "Run ownership, capability and generic analysis over a unit fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := driver.LoadUnit(args[0])
			if err != nil {
				return err
			}
			session := driver.NewSession(slog.Default())
			if err := unit.Apply(session); err != nil {
				return err
			}
			result, err := session.AnalyzeAll(context.Background())
			if err != nil {
				return err
			}

			out := report{
				Unit:      unit.Unit,
				Functions: make(map[string]string, len(result.Verdicts)),
			}
			for name, verdict := range result.Verdicts {
				if verdict.Sound() {
					out.Functions[name] = "pass"
				} else {
					out.Functions[name] = fmt.Sprintf("%d violations", len(verdict.Diagnostics))
				}
			}
			if len(result.Calls) > 0 {
				out.Calls = make(map[string]string, len(result.Calls))
				for site, resolution := range result.Calls {
					out.Calls[site] = resolution.String()
				}
			}
			for _, inst := range result.Instances {
				out.Instances = append(out.Instances, inst.Name)
			}
			if len(result.Tables) > 0 {
				out.Tables = make(map[string][]string, len(result.Tables))
				for capability, table := range result.Tables {
					out.Tables[capability] = table.Slots
				}
			}
			out.Diagnostics = renderDiags(result.Diagnostics)

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(out); err != nil {
				return err
			}
			if err := encoder.Close(); err != nil {
				return err
			}
			if !result.Sound() {
				return fmt.Errorf("analysis produced %d diagnostics", len(result.Diagnostics))
			}
			return nil
		},
	}
}

func renderDiags(ds []diag.Diagnostic) []reportDiag {
	out := make([]reportDiag, 0, len(ds))
	for _, d := range ds {
		rd := reportDiag{
			Kind:    string(d.Kind),
			At:      d.Primary.String(),
			Message: d.Message,
		}
		for _, span := range d.Related {
			rd.Related = append(rd.Related, span.String())
		}
		out = append(out, rd)
	}
	return out
}
