package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/config"
	"github.com/sells-group/popdownscale/internal/fetcher"
	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/store"
)

// testConfig is a small model over a 3x3 grid of 1km cells.
func testConfig() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{
			Cutoff:                  1500,
			Reference:               config.ReferenceCentroid,
			Workers:                 2,
			BatchSize:               4,
			MaxCorrectionIterations: 1000,
		},
		Calibration: config.CalibrationConfig{
			Alpha:     config.AxisConfig{Min: -1, Max: 1, N: 3},
			Beta:      config.AxisConfig{Min: 0, Max: 1, N: 2},
			Bounds:    calibrate.DefaultBounds(),
			Scenario:  "SSP2",
			FirstYear: 2020,
			LastYear:  2040,
			YearStep:  10,
		},
		Projection: config.ProjectionConfig{Scenario: "SSP2", EndYear: 2040, Step: 10},
	}
}

func writeGrid(t *testing.T, path string, values []float64) string {
	t.Helper()
	g, err := grid.New(3, 3, values)
	require.NoError(t, err)
	g.Geo = grid.Geotransform{OriginX: 0, OriginY: 3000, CellSize: 1000}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, grid.WriteASCIIFile(path, g))
	return path
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// toyGeometry writes a full mask and a boundary covering every cell.
func toyGeometry(t *testing.T, dir string) geometryRefs {
	t.Helper()
	return geometryRefs{
		Mask:     writeGrid(t, filepath.Join(dir, "mask.asc"), []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}),
		Boundary: writeFile(t, filepath.Join(dir, "boundary.csv"), "index\n0\n1\n2\n3\n4\n5\n6\n7\n8\n"),
	}
}

func testResolver(t *testing.T) *fetcher.Resolver {
	t.Helper()
	return fetcher.NewResolver(filepath.Join(t.TempDir(), "cache"), nil, nil)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

// seedRefiner accepts the grid-search seed as the refined point.
type seedRefiner struct{ err error }

func (s seedRefiner) Refine(_ context.Context, _ calibrate.Evaluator, seed calibrate.Params) (calibrate.Params, float64, error) {
	if s.err != nil {
		return calibrate.Params{}, 0, s.err
	}
	return seed, 0.5, nil
}
