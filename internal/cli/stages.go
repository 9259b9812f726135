package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/services"
)

func runCmd(env *string) *cobra.Command {
	var from string

	c := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline from a stage to the end",
		Long: "Run every stage from --from onwards. Each stage reads its inputs from the " +
			"persisted layers, so upstream stages are not repeated.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage, err := services.ParseStage(from)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), *env, func(a *app) error {
				if err := a.pipeline.Run(cmd.Context(), stage); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Pipeline complete")
				return nil
			})
		},
	}

	c.Flags().StringVar(&from, "from", string(services.StageRegistry), "first stage to run: "+stageNames())
	return c
}

func stageNames() string {
	names := make([]string, len(services.Stages))
	for i, st := range services.Stages {
		names[i] = string(st)
	}
	return strings.Join(names, "|")
}

func loadCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the facility registry into the facility layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				n, err := a.pipeline.LoadRegistry(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d facilities\n", n)
				return nil
			})
		},
	}
}

func geocodeCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "geocode",
		Short: "Geocode facilities that have no location yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				s, err := a.pipeline.Geocode(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Geocoded %d of %d (%d ambiguous, %d unmatched)\n",
					s.Matched, s.Attempted, s.Ambiguous, s.Unmatched)
				return nil
			})
		},
	}
}

func isochronesCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "isochrones",
		Short: "Fetch an isochrone for every available facility",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				run, err := a.pipeline.FetchIsochrones(cmd.Context(), models.ScopeFull)
				if err != nil {
					return err
				}
				printRun(cmd, run)
				return nil
			})
		},
	}
}

func retryCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-fetch the failures of the latest run and rebuild the service-area layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				run, err := a.pipeline.RetryFailures(cmd.Context())
				if run != nil {
					printRun(cmd, run)
				}
				return err
			})
		},
	}
}

func printRun(cmd *cobra.Command, run *models.FetchRun) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run ID:    %s (%s)\n", run.RunID, run.Scope)
	fmt.Fprintf(w, "Attempted: %d\n", run.Attempted)
	fmt.Fprintf(w, "Succeeded: %d\n", run.Successes)
	fmt.Fprintf(w, "Failed:    %d\n", run.Failures)
	if run.Failures > 0 {
		fmt.Fprintf(w, "\nInspect with: reach failures --run %s\n", run.RunID)
	}
}

func mergeCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Rebuild the service-area layer from the stored isochrones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				s, err := a.pipeline.Merge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service-area layer has %d rows\n", s.Rows)
				if len(s.Rejected) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Rejected: %s\n", strings.Join(s.Rejected, ", "))
				}
				return nil
			})
		},
	}
}

func boundariesCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "boundaries",
		Short: "Download administrative boundaries into the boundary layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				n, err := a.pipeline.LoadBoundaries(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d boundaries\n", n)
				return nil
			})
		},
	}
}
