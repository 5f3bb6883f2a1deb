package processor

import (
	"context"
	"math"
	"testing"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tileItem(id string, bbox []float64) *stac.Item {
	it := newTestItem(id, "2021-04-22T00:00:00Z", "", 0, 0, "data")
	it.Collection = utils.DeltaDTMCollection
	it.BBox = bbox
	return it
}

func TestDeltaDTMCollection(t *testing.T) {
	index := &fakeIndex{items: []*stac.Item{
		tileItem("west", []float64{4, 52, 5, 54}),
		tileItem("east", []float64{5, 52, 6, 54}),
		tileItem("far", []float64{10, 10, 11, 11}),
	}}
	reader := newFakeReader()
	reader.set("mem://west/data", -9999, 1.5)
	reader.set("mem://east/data", -9999, -9999)

	loader := NewLoader(reader, identityProjector{}, nil)
	c := NewDeltaDTMCollection(index, nil, loader, nil).
		Search(context.Background(), boxROI()).
		Load(WithCRS(4326), WithResolution(0.5))
	require.NoError(t, c.Err())
	assert.Equal(t, []string{"west", "east"}, ids(c.Items()))
	require.Len(t, index.bounds, 1)
	assert.Equal(t, boxROI().Bounds(), index.bounds[0])
	assert.Equal(t, []string{"data"}, c.LoadParams().Bands)

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ds.NumTimes())
	data := ds.Vars["data"]
	assert.Equal(t, float32(0), data.Data[0][0])
	assert.Equal(t, float32(1.5), data.Data[0][1])
	require.NotNil(t, data.NoData)
	assert.True(t, math.IsNaN(*data.NoData))
	assert.True(t, math.IsNaN(data.Attrs["nodata"].(float64)))

	again, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, ds, again)
}

func TestCopernicusDEMCollection(t *testing.T) {
	catalog := &fakeCatalog{items: []*stac.Item{newTestItem("dem", "2021-04-22T00:00:00Z", "", 0, 0, "data")}}
	reader := newFakeReader()
	reader.set("mem://dem/data", -32768, 12)

	c := NewCopernicusDEMCollection(catalog, nil, NewLoader(reader, identityProjector{}, nil), nil).
		Search(context.Background(), boxROI())
	require.NoError(t, c.Err())
	require.Len(t, catalog.params, 1)
	assert.Equal(t, []string{utils.CopernicusDEMCollection}, catalog.params[0].Collections)
	assert.Equal(t, []string{utils.CopernicusDEMCollection}, c.SearchParams().Collections)

	ds, err := c.Load(WithCRS(4326), WithResolution(0.5)).Execute(context.Background())
	require.NoError(t, err)
	data := ds.Vars["data"]
	assert.Equal(t, float32(-32768), data.Data[0][0])
	assert.Equal(t, float32(12), data.Data[0][1])
	assert.Equal(t, -32768.0, *data.NoData)
}

func TestTileCollectionNativeGrid(t *testing.T) {
	west := tileItem("west", []float64{4, 52, 5, 54})
	west.Properties[stac.PropProjEPSG] = 4326
	west.Properties[stac.PropProjTransform] = []interface{}{0.25, 0.0, 4.0, 0.0, -0.25, 54.0}
	bare := tileItem("bare", []float64{5, 52, 6, 54})
	reader := newFakeReader()
	reader.set("mem://west/data", 1)
	reader.set("mem://bare/data", 2)
	loader := NewLoader(reader, identityProjector{}, nil)

	c := NewDeltaDTMCollection(&fakeIndex{items: []*stac.Item{bare, west}}, nil, loader, nil).
		Search(context.Background(), boxROI()).
		Load()
	require.NoError(t, c.Err())
	assert.Empty(t, c.LoadParams().CRS)

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	gb := ds.GeoBox
	assert.Equal(t, "EPSG:4326", gb.CRS)
	assert.InDelta(t, 0.25, gb.Transform.A, 1e-12)
	assert.InDelta(t, -0.25, gb.Transform.E, 1e-12)
	assert.Equal(t, 8, gb.Width)
	assert.Equal(t, 8, gb.Height)

	// tiles without proj metadata need an explicit grid
	_, err = NewDeltaDTMCollection(&fakeIndex{items: []*stac.Item{tileItem("bare", testBBox)}}, nil, loader, nil).
		Search(context.Background(), boxROI()).
		Load().
		Execute(context.Background())
	assert.Error(t, err)
}

func TestTileCollectionErrors(t *testing.T) {
	loader := NewLoader(newFakeReader(), identityProjector{}, nil)

	_, err := NewCopernicusDEMCollection(&fakeCatalog{}, nil, loader, nil).Execute(context.Background())
	assert.ErrorIs(t, err, ErrNoSearch)

	c := NewCopernicusDEMCollection(&fakeCatalog{}, nil, loader, nil).Search(context.Background(), boxROI())
	assert.ErrorIs(t, c.Err(), ErrNoItems)

	c = NewTileCollection(&IndexTileSearcher{Index: &fakeIndex{items: []*stac.Item{tileItem("t", testBBox)}}}, "unknown", nil, loader, nil).
		Search(context.Background(), boxROI()).
		Load()
	assert.ErrorIs(t, c.Err(), ErrNoBands)

	roi := &utils.ROI{Geometry: boxROI().Geometry, CRS: "EPSG:32631"}
	c = NewCopernicusDEMCollection(&fakeCatalog{}, nil, loader, nil).Search(context.Background(), roi)
	assert.Error(t, c.Err())
}

func TestZeroNoData(t *testing.T) {
	ds := utils.NewDataset(testGeoBox(3, 1), []utils.TimeCoord{{}})
	require.NoError(t, ds.AddVariable(&utils.Variable{Name: "data", Data: [][]float32{{-9999, 2, -9999}}, NoData: utils.Float64Ptr(-9999)}))
	require.NoError(t, zeroNoData(ds))
	assert.Equal(t, []float32{0, 2, 0}, ds.Vars["data"].Data[0])

	require.NoError(t, ds.AddVariable(&utils.Variable{Name: "other", Data: [][]float32{{1, 2, 3}}}))
	assert.Error(t, zeroNoData(ds))

	ds = utils.NewDataset(testGeoBox(3, 1), []utils.TimeCoord{{}})
	require.NoError(t, ds.AddVariable(&utils.Variable{Name: "data", Data: [][]float32{{nan(), 2, nan()}}, NoData: utils.Float64Ptr(math.NaN())}))
	require.NoError(t, zeroNoData(ds))
	data := ds.Vars["data"].Data[0]
	assert.True(t, utils.IsNaN32(data[0]), "NaN pixels are kept")
	assert.Equal(t, float32(2), data[1])
	assert.True(t, utils.IsNaN32(data[2]))
}
