package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/services"
)

// Files written by export, read by the external map renderer.
const (
	ServiceAreasFile = "service_areas.geojson"
	FacilitiesFile   = "facilities.geojson"
	BoundariesFile   = "boundaries.geojson"
	FailuresFile     = "failures.json"
)

func exportCmd(env *string) *cobra.Command {
	var dir string

	c := &cobra.Command{
		Use:   "export",
		Short: "Write the persisted layers as GeoJSON for the map renderer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *env, func(a *app) error {
				if dir == "" {
					dir = a.cfg.Export.Dir
				}
				return exportLayers(cmd.Context(), a.layers, dir, cmd.OutOrStdout())
			})
		},
	}

	c.Flags().StringVar(&dir, "dir", "", "output directory (defaults to EXPORT_DIR)")
	return c
}

// exportLayers writes every built layer into dir. Layers that have not been
// built yet are skipped; the service-area layer is required.
func exportLayers(ctx context.Context, layers services.LayerService, dir string, out io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	areas, err := layers.ServiceAreas(ctx)
	if err != nil {
		return err
	}
	if err := writeFeatureCollection(dir, ServiceAreasFile, areas.FeatureCollection(), out); err != nil {
		return err
	}

	facilities, err := layers.Facilities(ctx)
	switch {
	case errors.Is(err, services.ErrLayerNotBuilt):
		fmt.Fprintf(out, "skipped %s: %v\n", FacilitiesFile, err)
	case err != nil:
		return err
	default:
		if err := writeFeatureCollection(dir, FacilitiesFile, models.FacilityFeatureCollection(facilities), out); err != nil {
			return err
		}
	}

	boundaries, err := layers.Boundaries(ctx)
	switch {
	case errors.Is(err, services.ErrLayerNotBuilt):
		fmt.Fprintf(out, "skipped %s: %v\n", BoundariesFile, err)
	case err != nil:
		return err
	default:
		if err := writeFeatureCollection(dir, BoundariesFile, models.BoundaryFeatureCollection(boundaries), out); err != nil {
			return err
		}
	}

	report, err := layers.Failures(ctx, "")
	switch {
	case errors.Is(err, services.ErrNoRuns):
		fmt.Fprintf(out, "skipped %s: %v\n", FailuresFile, err)
	case err != nil:
		return err
	default:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode failures: %w", err)
		}
		if err := writeFile(dir, FailuresFile, data, out); err != nil {
			return err
		}
	}

	return nil
}

func writeFeatureCollection(dir, name string, fc *geojson.FeatureCollection, out io.Writer) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return writeFile(dir, name, data, out)
}

func writeFile(dir, name string, data []byte, out io.Writer) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}
