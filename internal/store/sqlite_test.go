package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/tables"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func calibrationRun(region string) model.Run {
	return model.Run{
		Kind:   model.RunKindCalibration,
		Region: region,
		Year:   2010,
		Inputs: model.RunInputs{
			Year1:    "data/" + region + "/pop_2010.asc",
			Year2:    "data/" + region + "/pop_2020.asc",
			Mask:     "mask.asc",
			Boundary: "boundary.csv",
			Cutoff:   25000,
		},
	}
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, calibrationRun("adm1"))
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunKindCalibration, got.Kind)
	assert.Equal(t, "adm1", got.Region)
	assert.Equal(t, 2010, got.Year)
	assert.Equal(t, run.Inputs, got.Inputs)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
}

func TestSQLite_CompleteRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, calibrationRun("adm1"))
	require.NoError(t, err)

	result := &model.RunResult{Alpha: 0.4, Beta: 1.2, Error: 310.5, SeedAlpha: 0.5, SeedBeta: 1, SeedError: 400, Pairs: 50}
	require.NoError(t, st.CompleteRun(ctx, run.ID, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, *result, *got.Result)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, calibrationRun("adm1"))
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, "refinement did not converge"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "refinement did not converge", got.Error)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))

	err = st.CompleteRun(ctx, "missing", &model.RunResult{})
	assert.True(t, eris.Is(err, ErrNotFound))

	err = st.FailRun(ctx, "missing", "x")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, calibrationRun("adm1"))
	require.NoError(t, err)
	b, err := st.CreateRun(ctx, calibrationRun("adm2"))
	require.NoError(t, err)
	proj := calibrationRun("adm1")
	proj.Kind = model.RunKindProjection
	proj.Scenario = "SSP2"
	c, err := st.CreateRun(ctx, proj)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, b.ID, "boom"))

	ids := func(runs []model.Run) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, ids(all))

	byRegion, err := st.ListRuns(ctx, RunFilter{Region: "adm1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, ids(byRegion))

	byKind, err := st.ListRuns(ctx, RunFilter{Kind: model.RunKindProjection})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(byKind))

	byScenario, err := st.ListRuns(ctx, RunFilter{Scenario: "SSP2"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(byScenario))

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(failed))

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	rest, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLite_Records_KeepOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, calibrationRun("adm1"))
	require.NoError(t, err)

	records := []calibrate.Record{
		{Alpha: -1, Beta: 0, Error: 12.5},
		{Alpha: -1, Beta: 0.5, Error: 3.25},
		{Alpha: 1, Beta: 0, Error: 7},
	}
	require.NoError(t, st.SaveRecords(ctx, run.ID, records))
	require.NoError(t, st.SaveRecords(ctx, run.ID, nil))

	got, err := st.ListRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	none, err := st.ListRecords(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func expand(t *testing.T, p calibrate.Params, scenario string, first, last int) []tables.ParameterRow {
	t.Helper()
	rows, err := tables.ExpandYears(p, scenario, "adm1", first, last, 10)
	require.NoError(t, err)
	return rows
}

func TestSQLite_UpsertParameters_Replaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := expand(t, calibrate.Params{Alpha: 0.1, Beta: 0.2}, "SSP2", 2020, 2040)
	n, err := st.UpsertParameters(ctx, "run-1", first)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	second := expand(t, calibrate.Params{Alpha: 0.5, Beta: 0.6}, "SSP2", 2030, 2030)
	_, err = st.UpsertParameters(ctx, "run-2", second)
	require.NoError(t, err)

	_, err = st.UpsertParameters(ctx, "run-3", expand(t, calibrate.Params{Alpha: 9, Beta: 9}, "SSP5", 2020, 2020))
	require.NoError(t, err)

	got, err := st.ListParameters(ctx, "SSP2")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2020, got[0].Year)
	assert.InDelta(t, 0.1, got[0].Alpha, 1e-12)
	assert.Equal(t, 2030, got[1].Year)
	assert.InDelta(t, 0.5, got[1].Alpha, 1e-12)
	assert.InDelta(t, 0.6, got[1].Beta, 1e-12)
	assert.Equal(t, "adm1", got[2].Region)

	n, err = st.UpsertParameters(ctx, "run-4", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
