package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/reach/internal/services"
)

func failuresCmd(env *string) *cobra.Command {
	var runID string
	var format string

	c := &cobra.Command{
		Use:   "failures",
		Short: "List the facilities that produced no isochrone in a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				report, err := a.layers.Failures(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return printFailures(cmd.OutOrStdout(), report, format)
			})
		},
	}

	c.Flags().StringVar(&runID, "run", "", "run ID (defaults to the latest run)")
	c.Flags().StringVar(&format, "format", "table", "output format: table|json")
	return c
}

func printFailures(w io.Writer, report *services.FailureReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "table", "":
		fmt.Fprintf(w, "Run ID: %s\n", report.RunID)
		if len(report.Failures) == 0 {
			fmt.Fprintln(w, "No failures")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FACILITY\tCATEGORY\tOCCURRED\tMESSAGE")
		for _, f := range report.Failures {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.FacilityID, f.Category, f.OccurredAt.UTC().Format(time.RFC3339), f.Message)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format %q (expected table|json)", format)
	}
}
