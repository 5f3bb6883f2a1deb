package processor

import (
	"context"
	"testing"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectionFixture() (*fakeCatalog, *fakeReader) {
	catalog := &fakeCatalog{items: []*stac.Item{
		newTestItem("a", "2023-06-01T10:00:00Z", "31UFU", 51, 10, "red", "nir"),
		newTestItem("b", "2023-06-11T10:00:00Z", "31UFU", 51, 20, "red", "nir"),
		newTestItem("c", "2023-06-05T10:00:00Z", "31UGU", 8, 5, "red", "nir"),
	}}
	reader := newFakeReader()
	reader.set("mem://a/red", 0.1)
	reader.set("mem://b/red", 0.3)
	reader.set("mem://c/red", nan())
	for _, id := range []string{"a", "b", "c"} {
		reader.set("mem://"+id+"/nir", 0.6)
	}
	return catalog, reader
}

func newTestCollection(catalog Catalog, reader RasterReader) *ImageCollection {
	return NewImageCollection(catalog, utils.Sentinel2Collection, indicesConfig(), NewLoader(reader, identityProjector{}, nil), nil)
}

func TestImageCollectionComposite(t *testing.T) {
	catalog, reader := collectionFixture()
	c := newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", map[string]interface{}{"eo:cloud_cover": map[string]interface{}{"lt": 20}}, nil).
		Load([]string{"red", "nir"}, WithCRS(4326), WithResolution(0.5), WithSpectralIndices("NDVI")).
		Composite(50, nil)
	require.NoError(t, c.Err())

	require.Len(t, catalog.params, 1)
	params := catalog.params[0]
	assert.Equal(t, []string{utils.Sentinel2Collection}, params.Collections)
	assert.Equal(t, "2023-06-01/2023-06-30", params.Datetime)
	assert.NotEmpty(t, params.Intersects)
	assert.Contains(t, params.Query, "eo:cloud_cover")

	require.NotNil(t, c.LoadParams().GeoBox)
	assert.Equal(t, 4, c.LoadParams().GeoBox.Width)

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ds.NumTimes())
	assert.Equal(t, []string{"red", "nir", "NDVI"}, ds.Order)
	for _, v := range ds.Vars["red"].Data[0] {
		assert.InDelta(t, 0.2, v, 1e-6)
	}
	assert.InDelta(t, 0.4/0.8, ds.Vars["NDVI"].Data[0][0], 1e-6)
	assert.Equal(t, []string{"c", "a", "b"}, ds.Attrs[AttrStacIDs])
	assert.Equal(t, "median", ds.Attrs[AttrDeterminationMethod])

	again, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, ds, again)
	assert.Len(t, reader.reads, 6)
}

func TestImageCollectionWithoutComposite(t *testing.T) {
	catalog, reader := collectionFixture()
	c := newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithCRS("EPSG:4326"), WithResolution(0.5)).
		Mask(nil, true, []float64{0.3})

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, ds.NumTimes())
	assert.Equal(t, "a", ds.Times[0].StacID)
	assert.Equal(t, "c", ds.Times[1].StacID)
	assert.Equal(t, "31UGU", ds.Times[1].MGRSTile)
	assert.Equal(t, 8, ds.Times[1].RelativeOrbit)
	assert.True(t, ds.Times[2].HasMetadata)
	assert.True(t, utils.IsNaN32(ds.Vars["red"].Data[2][0]), "0.3 is masked")
}

func TestImageCollectionPercentileZero(t *testing.T) {
	catalog, reader := collectionFixture()
	c := newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithCRS(4326), WithResolution(0.5), WithPercentile(0))
	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NumTimes())
	assert.NotContains(t, ds.Attrs, AttrDeterminationMethod)

	c = newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithCRS(4326), WithResolution(0.5)).
		Composite(0, nil)
	require.NoError(t, c.Err())
	ds, err = c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NumTimes())
	assert.InDelta(t, 0.1, ds.Vars["red"].Data[0][0], 1e-6)
}

func TestImageCollectionGeometryMaskReplacesValueMask(t *testing.T) {
	catalog, reader := collectionFixture()
	c := newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithCRS(4326), WithResolution(0.5)).
		Mask(utils.BoxROI(4, 52, 5, 54), true, []float64{0.3})

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, ds.NumTimes())
	require.Equal(t, "b", ds.Times[2].StacID)

	gb := ds.GeoBox
	require.Equal(t, 4, gb.Width)
	red := ds.Vars["red"].Data[2]
	for row := 0; row < gb.Height; row++ {
		assert.InDelta(t, 0.3, red[row*gb.Width], 1e-6, "inside the geometry")
		assert.InDelta(t, 0.3, red[row*gb.Width+1], 1e-6, "inside the geometry")
		assert.True(t, utils.IsNaN32(red[row*gb.Width+3]), "outside the geometry")
	}
}

func TestImageCollectionErrors(t *testing.T) {
	catalog, reader := collectionFixture()

	c := newTestCollection(catalog, reader).Composite(50, nil)
	assert.ErrorIs(t, c.Err(), ErrNoSearch)

	_, err := newTestCollection(catalog, reader).Execute(context.Background())
	assert.ErrorIs(t, err, ErrNoSearch)

	c = newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load(nil)
	assert.ErrorIs(t, c.Err(), ErrNoBands)

	c = newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithPercentile(120))
	assert.ErrorIs(t, c.Err(), ErrInvalidPercentile)

	c = newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Composite(-1, nil)
	assert.ErrorIs(t, c.Err(), ErrInvalidPercentile)

	c = newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil)
	_, err = c.Execute(context.Background())
	assert.Error(t, err, "load was never configured")

	empty := &fakeCatalog{}
	c = newTestCollection(empty, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"})
	assert.ErrorIs(t, c.Err(), ErrNoItems)
	_, err = c.Execute(context.Background())
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestImageCollectionFilterBeforeComposite(t *testing.T) {
	catalog, reader := collectionFixture()
	c := newTestCollection(catalog, reader).
		Search(context.Background(), boxROI(), "2023-06-01/2023-06-30", nil, nil).
		Load([]string{"red"}, WithCRS(4326), WithResolution(0.5)).
		Composite(50, NewSortedFilter(1))
	require.NoError(t, c.Err())
	assert.Equal(t, []string{"a", "c"}, ids(c.Items()))

	ds, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, ds.Vars["red"].Data[0][0], 1e-6)
}
