package processor

import (
	"math"
	"testing"

	"github.com/nci/stacomp/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{"median even", []float64{4, 1, 3, 2}, 0.5, 2.5},
		{"median odd", []float64{3, 1, 2}, 0.5, 2},
		{"min", []float64{4, 1, 3, 2}, 0, 1},
		{"max", []float64{4, 1, 3, 2}, 1, 4},
		{"interpolated", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
		{"skips nan", []float64{math.NaN(), 5, math.NaN(), 1}, 0.5, 3},
		{"single", []float64{7}, 0.25, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Quantile(tc.values, tc.q), 1e-9)
		})
	}
	assert.True(t, math.IsNaN(Quantile([]float64{math.NaN(), math.NaN()}, 0.5)))
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func compositeFixture(t *testing.T) *utils.Dataset {
	times := []utils.TimeCoord{
		{Time: mustTime("2023-01-01T10:00:00Z"), StacID: "a1", MGRSTile: "31UFU", RelativeOrbit: 51, CloudCover: 30, HasMetadata: true},
		{Time: mustTime("2023-01-11T10:00:00Z"), StacID: "a2", MGRSTile: "31UFU", RelativeOrbit: 51, CloudCover: 10, HasMetadata: true},
		{Time: mustTime("2023-01-21T10:00:00Z"), StacID: "a3", MGRSTile: "31UFU", RelativeOrbit: 51, CloudCover: 20, HasMetadata: true},
		{Time: mustTime("2023-01-05T10:00:00Z"), StacID: "b1", MGRSTile: "31UGU", RelativeOrbit: 8, CloudCover: 5, HasMetadata: true},
	}
	ds := utils.NewDataset(testGeoBox(2, 1), times)
	require.NoError(t, ds.AddVariable(&utils.Variable{
		Name: "red",
		Data: [][]float32{
			{1, nan()},
			{3, nan()},
			{2, nan()},
			{100, 7},
		},
	}))
	return ds
}

func TestCompositeMedian(t *testing.T) {
	ds := compositeFixture(t)
	out, err := Composite(ds, 50)
	require.NoError(t, err)

	require.Equal(t, 1, out.NumTimes())
	assert.Equal(t, []float32{2, 7}, out.Vars["red"].Data[0])

	tc := out.Times[0]
	assert.Equal(t, mustTime("2023-01-01T10:00:00Z"), tc.StartDatetime)
	assert.Equal(t, mustTime("2023-01-21T10:00:00Z"), tc.EndDatetime)
	assert.Equal(t, tc.StartDatetime, tc.Time)

	assert.InDelta(t, 16.25, out.Attrs[AttrCloudCover], 1e-9)
	assert.Equal(t, "median", out.Attrs[AttrDeterminationMethod])
	assert.Equal(t, 50, out.Attrs[AttrPercentile])
	assert.Equal(t, []string{"31UGU_8", "31UFU_51"}, out.Attrs[AttrGroups])
	assert.Equal(t, []string{"b1", "a2", "a3", "a1"}, out.Attrs[AttrStacIDs])
	assert.InDelta(t, 2.0, out.Attrs[AttrAvgObs], 1e-9)
	assert.Equal(t, "10 days", out.Attrs[AttrAvgInterval])
	assert.Equal(t,
		"Composite dataset created by grouping on ['s2:mgrs_tile', 'sat:relative_orbit'], using a median method, sorted by 'eo:cloud_cover' with an average of 2.0 images per group.",
		out.Attrs[AttrSummary])

	// the input is left untouched
	assert.Equal(t, 4, ds.NumTimes())
	_, ok := ds.Attrs[AttrSummary]
	assert.False(t, ok)
}

func TestCompositePercentile(t *testing.T) {
	out, err := Composite(compositeFixture(t), 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 7}, out.Vars["red"].Data[0])
	assert.Equal(t, "percentile", out.Attrs[AttrDeterminationMethod])

	out, err = Composite(compositeFixture(t), 100)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 7}, out.Vars["red"].Data[0])
	assert.Contains(t, out.Attrs[AttrSummary], "using a 100th percentile method")
}

func TestCompositeAvgIntervalUnavailable(t *testing.T) {
	ds := compositeFixture(t)
	ds.SelectTimes([]int{0, 3})
	out, err := Composite(ds, 50)
	require.NoError(t, err)
	assert.Equal(t, "nan days", out.Attrs[AttrAvgInterval])
	assert.InDelta(t, 1.0, out.Attrs[AttrAvgObs], 1e-9)
}

func TestCompositeErrors(t *testing.T) {
	_, err := Composite(compositeFixture(t), 101)
	assert.ErrorIs(t, err, ErrInvalidPercentile)
	assert.Contains(t, err.Error(), "failed to generate composite")

	ds := compositeFixture(t)
	ds.Times[1].HasMetadata = false
	_, err = Composite(ds, 50)
	assert.Error(t, err)

	empty := utils.NewDataset(testGeoBox(1, 1), nil)
	_, err = Composite(empty, 50)
	assert.Error(t, err)
}

func TestCompositeSummary(t *testing.T) {
	s, err := CompositeSummary(90, 3.5)
	require.NoError(t, err)
	assert.Contains(t, s, "using a 90th percentile method")
	assert.Contains(t, s, "an average of 3.5 images per group")
}
