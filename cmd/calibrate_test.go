package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/tables"
)

func toyCalibration(t *testing.T) (calibrateOptions, string) {
	t.Helper()
	dir := t.TempDir()
	return calibrateOptions{
		Year1:     writeGrid(t, filepath.Join(dir, "toy", "pop_2010.asc"), []float64{10, 0, 0, 0, 10, 0, 0, 0, 10}),
		Year2:     writeGrid(t, filepath.Join(dir, "toy", "pop_2020.asc"), []float64{13, 0, 0, 0, 13, 0, 0, 0, 13}),
		Geometry:  toyGeometry(t, dir),
		OutputDir: filepath.Join(dir, "out"),
		Report:    true,
	}, dir
}

func TestRunCalibration(t *testing.T) {
	opts, dir := toyCalibration(t)
	st := newTestStore(t)
	ctx := context.Background()

	out, err := runCalibration(ctx, opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
		Store:    st,
		Refiner:  seedRefiner{},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "out", "toy"), out.OutputDir)
	assert.InDelta(t, 9, out.Change, 1e-9)
	require.Len(t, out.Result.Records, 6)
	assert.Equal(t, out.Result.Seed.Params(), out.Result.Params)

	for _, f := range []string{tables.RecordsFile, "parameters_SSP2.csv", tables.ManifestFile, "calibration.xlsx"} {
		_, err := os.Stat(filepath.Join(out.OutputDir, f))
		assert.NoError(t, err, f)
	}

	m, err := tables.ReadManifest(filepath.Join(out.OutputDir, tables.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, "toy", m.Region)
	assert.Equal(t, 2010, m.Year)
	assert.Equal(t, string(model.RunStatusComplete), m.Status)
	assert.Equal(t, out.Run.ID, m.RunID)
	assert.Equal(t, 4, m.Inputs.Reference)

	params, err := tables.ReadParameters(out.ParametersFile)
	require.NoError(t, err)
	require.Len(t, params.Rows, 3)
	assert.Equal(t, 2020, params.Rows[0].Year)
	assert.Equal(t, "toy", params.Rows[0].Region)

	run, err := st.GetRun(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.RunKindCalibration, run.Kind)
	require.NotNil(t, run.Result)
	assert.Equal(t, 6, run.Result.Pairs)
	assert.InDelta(t, 0.5, run.Result.Error, 0)

	records, err := st.ListRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Result.Records, records)

	stored, err := st.ListParameters(ctx, "SSP2")
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	var buf bytes.Buffer
	printCalibration(&buf, out)
	assert.Contains(t, buf.String(), "Region:")
	assert.Contains(t, buf.String(), "complete")
}

func TestRunCalibration_RefineFailure(t *testing.T) {
	opts, _ := toyCalibration(t)
	opts.Report = false
	st := newTestStore(t)
	ctx := context.Background()

	out, err := runCalibration(ctx, opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
		Store:    st,
		Refiner:  seedRefiner{err: eris.New("did not converge")},
	})
	require.Error(t, err)
	require.NotNil(t, out)

	_, statErr := os.Stat(filepath.Join(out.OutputDir, tables.RecordsFile))
	assert.NoError(t, statErr, "grid-search records survive a failed refinement")
	_, statErr = os.Stat(filepath.Join(out.OutputDir, "parameters_SSP2.csv"))
	assert.True(t, os.IsNotExist(statErr))

	m, err := tables.ReadManifest(filepath.Join(out.OutputDir, tables.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, string(model.RunStatusFailed), m.Status)
	assert.Contains(t, m.Message, "did not converge")

	run, err := st.GetRun(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "did not converge")
}

func TestRunCalibration_WithoutStore(t *testing.T) {
	opts, _ := toyCalibration(t)
	opts.Region = "elsewhere"
	opts.Year = 1990

	out, err := runCalibration(context.Background(), opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
		Refiner:  seedRefiner{},
	})
	require.NoError(t, err)
	assert.Nil(t, out.Run)
	assert.Equal(t, "elsewhere", out.Manifest.Region)
	assert.Equal(t, 1990, out.Manifest.Year)
}

func TestRunCalibration_ShapeMismatch(t *testing.T) {
	opts, dir := toyCalibration(t)
	opts.Year2 = writeFile(t, filepath.Join(dir, "toy", "small_2020.asc"),
		"ncols 2\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1000\n1 2\n")

	_, err := runCalibration(context.Background(), opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
		Refiner:  seedRefiner{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "year2 is 1x2")
}

func TestRunCalibration_NoYearInName(t *testing.T) {
	opts, dir := toyCalibration(t)
	opts.Year1 = writeGrid(t, filepath.Join(dir, "toy", "base.asc"), []float64{10, 0, 0, 0, 10, 0, 0, 0, 10})

	_, err := runCalibration(context.Background(), opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
		Refiner:  seedRefiner{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--year")
}

func TestRunCalibration_MissingInput(t *testing.T) {
	opts, _ := toyCalibration(t)
	opts.Geometry.Mask = ""

	_, err := runCalibration(context.Background(), opts, calibrationDeps{
		Config:   testConfig(),
		Resolver: testResolver(t),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mask is required")
}
