package suitability

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popdownscale/internal/grid"
	"github.com/sells-group/popdownscale/internal/template"
)

func build3x3(t *testing.T, values []float64, ref int, cutoff float64) (*grid.Grid, *template.Template) {
	t.Helper()
	g, err := grid.New(3, 3, values)
	require.NoError(t, err)
	g.Geo = grid.Geotransform{OriginX: 0, OriginY: 3000, CellSize: 1000}
	tmpl, err := template.Build(ref, cutoff, g.Dims, g.Centers())
	require.NoError(t, err)
	return g, tmpl
}

func TestPower_ZeroPreserving(t *testing.T) {
	assert.Equal(t, 0.0, Power(0, -1.5))
	assert.Equal(t, -2.0, Power(-2, 0.5))
	assert.InDelta(t, 4.0, Power(16, 0.5), 1e-12)
	assert.Equal(t, 1.0, Power(7, 0))
}

func TestDecay(t *testing.T) {
	_, tmpl := build3x3(t, make([]float64, 9), 4, 1500)
	d := Decay(tmpl, 1)
	require.Len(t, d, tmpl.Len())
	assert.InDelta(t, math.Exp(-1), d[0], 1e-12)
	assert.InDelta(t, math.Exp(-math.Sqrt2), d[len(d)-1], 1e-9)

	for _, v := range Decay(tmpl, 0) {
		assert.Equal(t, 1.0, v)
	}
}

func TestEstimate_AllZeroNeighboursReturnsZero(t *testing.T) {
	g, tmpl := build3x3(t, []float64{0, 0, 0, 0, 5, 0, 0, 0, 0}, 4, 1500)
	for _, alpha := range []float64{-2, -0.5, 0, 0.5, 2} {
		s := Estimate(4, tmpl, g, alpha, Decay(tmpl, 0.3))
		assert.True(t, s.Valid)
		assert.Equal(t, 0.0, s.Value, "alpha=%v", alpha)
	}
}

func TestEstimate_MeanOfInBoundsNeighbours(t *testing.T) {
	g, tmpl := build3x3(t, []float64{10, 0, 0, 0, 10, 0, 0, 0, 10}, 4, 1500)
	decay := Decay(tmpl, 0)

	// Corner cell 0 sees (0,1), (1,0), (1,1): only the centre is populated.
	s := Estimate(0, tmpl, g, 0, decay)
	require.True(t, s.Valid)
	assert.InDelta(t, 1.0/3, s.Value, 1e-12)

	// Centre cell sees all 8 neighbours, two of them populated.
	s = Estimate(4, tmpl, g, 0, decay)
	assert.InDelta(t, 0.25, s.Value, 1e-12)

	// Alpha applies to the populated neighbour value.
	s = Estimate(0, tmpl, g, 0.5, decay)
	assert.InDelta(t, math.Sqrt(10)/3, s.Value, 1e-12)
}

func TestEstimate_SkipsMissing(t *testing.T) {
	g, tmpl := build3x3(t, []float64{math.NaN(), 4, 0, 4, 0, 0, 0, 0, 0}, 4, 1500)
	s := Estimate(0, tmpl, g, 1, Decay(tmpl, 0))
	require.True(t, s.Valid)
	// neighbours (0,1)=4, (1,0)=4, (1,1)=0; the NaN focal cell is not a neighbour of itself
	assert.InDelta(t, 8.0/3, s.Value, 1e-12)

	all, tmpl := build3x3(t, []float64{0, math.NaN(), 0, math.NaN(), math.NaN(), 0, 0, 0, 0}, 4, 1500)
	s = Estimate(0, tmpl, all, 1, Decay(tmpl, 0))
	assert.False(t, s.Valid)
}

func TestEstimate_EmptyTemplateIsNoSignal(t *testing.T) {
	g, tmpl := build3x3(t, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 4, 10)
	require.Zero(t, tmpl.Len())
	s := Estimate(4, tmpl, g, 1, Decay(tmpl, 1))
	assert.False(t, s.Valid)
}

func TestEstimate_MonotonicDecay(t *testing.T) {
	// One populated neighbour, placed progressively further from the focal cell.
	d := grid.Dims{Rows: 1, Cols: 5}
	pts := make([]grid.Point, 5)
	for i := range pts {
		pts[i] = grid.Point{X: float64(i) * 1000}
	}
	tmpl, err := template.Build(0, 4500, d, pts)
	require.NoError(t, err)
	decay := Decay(tmpl, 0.8)

	prev := math.Inf(1)
	for col := 1; col < 5; col++ {
		values := make([]float64, 5)
		values[col] = 50
		g, err := grid.New(1, 5, values)
		require.NoError(t, err)

		s := Estimate(0, tmpl, g, 0.7, decay)
		require.True(t, s.Valid)
		assert.Less(t, s.Value, prev, "neighbour at column %d", col)
		prev = s.Value
	}
}

func TestEstimateChecked(t *testing.T) {
	g, tmpl := build3x3(t, make([]float64, 9), 4, 1500)

	_, err := EstimateChecked(9, tmpl, g, 1, Decay(tmpl, 1))
	require.Error(t, err)
	assert.True(t, eris.Is(err, grid.ErrInvalidIndex))

	_, err = EstimateChecked(0, tmpl, g, 1, []float64{1})
	assert.Error(t, err)

	other, err := grid.New(2, 2, make([]float64, 4))
	require.NoError(t, err)
	_, err = EstimateChecked(0, tmpl, other, 1, Decay(tmpl, 1))
	assert.Error(t, err)

	s, err := EstimateChecked(0, tmpl, g, 1, Decay(tmpl, 1))
	require.NoError(t, err)
	assert.True(t, s.Valid)
}
