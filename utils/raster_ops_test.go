package utils

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridDataset(t *testing.T, width, height int, values ...float32) *Dataset {
	gb := GeoBox{Width: width, Height: height, Transform: Affine{A: 1, E: -1, F: float64(height)}, CRS: "EPSG:32631"}
	ds := NewDataset(gb, []TimeCoord{{}})
	require.NoError(t, ds.AddVariable(&Variable{Name: "band", Data: [][]float32{values}}))
	return ds
}

func TestRasterCenter(t *testing.T) {
	x, y := RasterCenter(gridDataset(t, 3, 2, 0, 0, 0, 0, 0, 0))
	assert.Equal(t, 1.5, x)
	assert.Equal(t, 1.0, y)
}

func TestRotateRaster(t *testing.T) {
	ds := gridDataset(t, 2, 2, 1, 2, 3, 4)
	pivot := &Point{X: 1, Y: 1}
	out, err := RotateRaster(ds, 180, pivot)
	require.NoError(t, err)

	expected := ds.GeoBox.Transform.Multiply(Rotation(180, pivot)).Multiply(Affine{A: 1, E: -1, F: 2})
	assert.True(t, out.GeoBox.Transform.AlmostEqual(expected, 1e-12))
	assert.Equal(t, []float32{2, 1, 4, 3}, out.Vars["band"].Data[0])
	assert.Equal(t, []float64{0, 1}, out.X)
	assert.Equal(t, []float64{0, 1}, out.Y)
	assert.Equal(t, ds.GeoBox.CRS, out.GeoBox.CRS)
	// input untouched
	assert.Equal(t, []float32{1, 2, 3, 4}, ds.Vars["band"].Data[0])

	// pixels rotated off the grid take the nodata value
	ds.Vars["band"].NoData = Float64Ptr(-1)
	out, err = RotateRaster(ds, 45, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Vars["band"].Data[0], float32(-1))
}

func TestInterpolateRaster(t *testing.T) {
	ds := gridDataset(t, 3, 2, 0, 1, 2, 0, 1, 2)
	out, err := InterpolateRaster(ds, 2, 5, InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, 5, out.GeoBox.Width)
	assert.Equal(t, 2, out.GeoBox.Height)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2, 2.5}, out.X)
	assert.InDelta(t, 0.6, out.GeoBox.Transform.A, 1e-12)
	assert.InDelta(t, -1, out.GeoBox.Transform.E, 1e-12)
	for i, want := range []float32{0, 0.5, 1, 1.5, 2} {
		assert.InDelta(t, want, out.Vars["band"].Data[0][i], 1e-6)
		assert.InDelta(t, want, out.Vars["band"].Data[0][5+i], 1e-6)
	}

	out, err = InterpolateRaster(ds, 2, 5, InterpNearest)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 1, 2}, out.Vars["band"].Data[0][:5])

	out, err = InterpolateRaster(ds, 2, 5, InterpZero)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 1, 2}, out.Vars["band"].Data[0][:5])

	_, err = InterpolateRaster(ds, 2, 5, "quadratic")
	assert.Error(t, err)
	_, err = InterpolateRaster(ds, 0, 5, InterpLinear)
	assert.Error(t, err)
}

func TestInterpolateRasterSwapsShape(t *testing.T) {
	tall := gridDataset(t, 2, 3, 0, 1, 0, 1, 0, 1)
	out, err := InterpolateRaster(tall, 4, 2, InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, 4, out.GeoBox.Width)
	assert.Equal(t, 2, out.GeoBox.Height)

	for _, method := range []string{InterpCubic, InterpAkima, InterpPchip, InterpSLinear} {
		_, err := InterpolateRaster(gridDataset(t, 5, 1, 0, 1, 4, 9, 16), 1, 9, method)
		assert.NoError(t, err, method)
	}
}

func TestInterpolateRasterTooFewCoordinates(t *testing.T) {
	ds := gridDataset(t, 2, 2, 1, 2, 3, 4)
	for _, method := range []string{InterpCubic, InterpAkima} {
		_, err := InterpolateRaster(ds, 4, 4, method)
		assert.Error(t, err, method)
	}
	for _, method := range []string{InterpLinear, InterpPchip, InterpNearest} {
		out, err := InterpolateRaster(ds, 4, 4, method)
		require.NoError(t, err, method)
		assert.Equal(t, 4, out.GeoBox.Width)
	}

	// constant x labels, as from a transform without an x scale
	ds.X = []float64{0.5, 0.5}
	_, err := InterpolateRaster(ds, 4, 4, InterpLinear)
	assert.Error(t, err)
}

func TestTrimOuterNaNs(t *testing.T) {
	n := float32(math.NaN())
	ds := gridDataset(t, 4, 4,
		n, n, n, n,
		n, 1, 2, n,
		n, 3, 4, n,
		n, n, n, n)
	out, err := TrimOuterNaNs(ds, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.GeoBox.Width)
	assert.Equal(t, 2, out.GeoBox.Height)
	assert.Equal(t, []float32{1, 2, 3, 4}, out.Vars["band"].Data[0])
	assert.Equal(t, 1.0, out.GeoBox.Transform.C)
	assert.Equal(t, 3.0, out.GeoBox.Transform.F)

	// shrinking past the valid box leaves the raster alone
	same, err := TrimOuterNaNs(ds, 1, nil)
	require.NoError(t, err)
	assert.Same(t, ds, same)

	empty := gridDataset(t, 2, 1, n, n)
	same, err = TrimOuterNaNs(empty, 0, nil)
	require.NoError(t, err)
	assert.Same(t, empty, same)

	withNoData := gridDataset(t, 3, 1, -9999, 5, -9999)
	out, err = TrimOuterNaNs(withNoData, 0, Float64Ptr(-9999))
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, out.Vars["band"].Data[0])
}

func TestExtractDataInsidePolygon(t *testing.T) {
	values := make([]float32, 16)
	for i := range values {
		values[i] = float32(i)
	}
	ds := gridDataset(t, 4, 4, values...)
	poly := orb.Polygon{{{1.4, 2.6}, {2.6, 2.6}, {2.6, 1.4}, {1.4, 1.4}, {1.4, 2.6}}}
	out, err := ExtractDataInsidePolygon(ds, poly)
	require.NoError(t, err)
	assert.Equal(t, 2, out.GeoBox.Width)
	assert.Equal(t, 2, out.GeoBox.Height)
	assert.Equal(t, []float32{5, 6, 9, 10}, out.Vars["band"].Data[0])

	_, err = ExtractDataInsidePolygon(ds, orb.Polygon{})
	assert.Error(t, err)
}

func TestExtractAndSetNoData(t *testing.T) {
	ds := NewDataset(GeoBox{Width: 1, Height: 1}, []TimeCoord{{}})
	for _, name := range []string{"red", "green", "SCL"} {
		require.NoError(t, ds.AddVariable(&Variable{Name: name, Data: [][]float32{{0}}}))
	}
	ds.Vars["red"].NoData = Float64Ptr(0)
	ds.Vars["green"].NoData = Float64Ptr(0)

	nd, err := ExtractAndSetNoData(ds, []string{"red", "green"}, []string{"SCL"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, nd)
	require.NotNil(t, ds.Vars["SCL"].NoData)
	assert.Equal(t, 0.0, *ds.Vars["SCL"].NoData)

	ds.Vars["green"].NoData = Float64Ptr(-1)
	_, err = ExtractAndSetNoData(ds, []string{"red", "green"}, []string{"SCL"})
	assert.Error(t, err)

	_, err = ExtractAndSetNoData(ds, []string{"SCL"}, nil)
	require.NoError(t, err)

	ds.Vars["SCL"].NoData = nil
	_, err = ExtractAndSetNoData(ds, []string{"SCL"}, nil)
	assert.Error(t, err)

	_, err = ExtractAndSetNoData(ds, []string{"missing"}, nil)
	assert.Error(t, err)
}
