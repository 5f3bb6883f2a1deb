package processor

import (
	"context"
	"testing"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupItems(t *testing.T) {
	items := []*stac.Item{
		newTestItem("late", "2023-06-03T10:00:00Z", "31UFU", 51, 10),
		newTestItem("early-a", "2023-06-01T10:00:00Z", "31UFU", 51, 10),
		newTestItem("early-b", "2023-06-01T10:00:05Z", "31UGU", 51, 10),
	}

	groups, err := groupItems(items, GroupBySolarDay, false)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "2023-06-01", groups[0].key)
	assert.Equal(t, []string{"early-a", "early-b"}, ids(groups[0].items))
	assert.Equal(t, "2023-06-03", groups[1].key)

	groups, err = groupItems(items, GroupByID, true)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "late", groups[0].key)

	groups, err = groupItems(items, GroupByMosaic, false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, mustTime("2023-06-01T10:00:00Z"), groups[0].time)

	groups, err = groupItems(items, stac.PropMGRSTile, false)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestSolarDayShiftsByLongitude(t *testing.T) {
	it := newTestItem("x", "2023-06-01T23:00:00Z", "31UFU", 51, 10)
	// centred on 5 degrees east, 20 minutes ahead of UTC
	day, err := solarDay(it, mustTime("2023-06-01T23:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "2023-06-01", day)

	day, err = solarDay(it, mustTime("2023-06-01T23:50:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "2023-06-02", day)
}

func TestResolveGeoBox(t *testing.T) {
	l := NewLoader(newFakeReader(), identityProjector{}, nil)
	wgs84 := utils.EPSGString(utils.WGS84EPSG)

	gb, err := l.ResolveGeoBox(&LoadParams{BBox: &orb.Bound{Min: orb.Point{4, 52}, Max: orb.Point{6, 54}}, CRS: wgs84, Resolution: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 4, gb.Width)
	assert.Equal(t, 4, gb.Height)
	assert.Equal(t, utils.Affine{A: 0.5, C: 4, E: -0.5, F: 54}, gb.Transform)

	explicit := testGeoBox(2, 2)
	gb, err = l.ResolveGeoBox(&LoadParams{GeoBox: &explicit, BBox: &orb.Bound{}})
	require.NoError(t, err)
	assert.Equal(t, explicit, gb)

	like := utils.NewDataset(testGeoBox(3, 3), nil)
	gb, err = l.ResolveGeoBox(&LoadParams{Like: like})
	require.NoError(t, err)
	assert.Equal(t, 3, gb.Width)

	gb, err = l.ResolveGeoBox(&LoadParams{Lon: &Range{4, 6}, Lat: &Range{52, 54}, CRS: wgs84, Resolution: 1, Anchor: "center"})
	require.NoError(t, err)
	assert.Equal(t, 3.5, gb.Transform.C)
	assert.Equal(t, 54.5, gb.Transform.F)

	_, err = l.ResolveGeoBox(&LoadParams{})
	assert.Error(t, err)

	_, err = l.ResolveGeoBox(&LoadParams{GeoPolygon: boxROI(), CRS: wgs84})
	assert.Error(t, err, "geographic output needs a resolution")

	_, err = l.ResolveGeoBox(&LoadParams{X: &Range{0, 10}, Y: &Range{0, 10}})
	assert.Error(t, err, "x/y needs an explicit CRS")
}

func loadParams(bands ...string) *LoadParams {
	gb := testGeoBox(2, 1)
	return &LoadParams{Bands: bands, GroupBy: GroupBySolarDay, FailOnError: true, GeoBox: &gb}
}

func TestLoaderLoad(t *testing.T) {
	reader := newFakeReader()
	reader.set("mem://a/red", 1, nan())
	reader.set("mem://b/red", 5, 6)
	reader.set("mem://c/red", 9, 9)
	items := []*stac.Item{
		newTestItem("a", "2023-06-01T10:00:00Z", "31UFU", 51, 10, "red"),
		newTestItem("b", "2023-06-01T10:00:05Z", "31UGU", 51, 10, "red"),
		newTestItem("c", "2023-06-06T10:00:00Z", "31UFU", 51, 10, "red"),
	}

	ds, err := NewLoader(reader, identityProjector{}, nil).Load(context.Background(), items, loadParams("red"))
	require.NoError(t, err)
	require.Equal(t, 2, ds.NumTimes())
	assert.Equal(t, []float32{1, 6}, ds.Vars["red"].Data[0])
	assert.Equal(t, []float32{9, 9}, ds.Vars["red"].Data[1])
	assert.Equal(t, "EPSG:4326", ds.Attrs["crs"])
	assert.Equal(t, map[string]int{"time": 2, "y": 1, "x": 2}, ds.Sizes())
}

func TestLoaderFailOnError(t *testing.T) {
	reader := newFakeReader()
	reader.set("mem://a/red", 1, 2)
	items := []*stac.Item{
		newTestItem("a", "2023-06-01T10:00:00Z", "31UFU", 51, 10, "red"),
		newTestItem("b", "2023-06-02T10:00:00Z", "31UFU", 51, 10, "red"),
	}
	l := NewLoader(reader, identityProjector{}, nil)

	_, err := l.Load(context.Background(), items, loadParams("red"))
	assert.Error(t, err)

	params := loadParams("red")
	params.FailOnError = false
	ds, err := l.Load(context.Background(), items, params)
	require.NoError(t, err)
	require.Equal(t, 2, ds.NumTimes())
	assert.True(t, utils.IsNaN32(ds.Vars["red"].Data[1][0]))
}

func TestLoaderNoDataFill(t *testing.T) {
	reader := newFakeReader()
	reader.set("mem://a/data", -32768, 3)
	reader.set("mem://b/data", 4, 5)
	items := []*stac.Item{
		newTestItem("a", "2021-04-22T00:00:00Z", "", 0, 0, "data"),
		newTestItem("b", "2021-04-22T00:00:00Z", "", 0, 0, "data"),
	}
	cfg := utils.CopernicusDEMConfig()
	params := loadParams("data")
	params.GroupBy = GroupByMosaic
	params.StacCfg = &cfg

	ds, err := NewLoader(reader, identityProjector{}, nil).Load(context.Background(), items, params)
	require.NoError(t, err)
	v := ds.Vars["data"]
	assert.Equal(t, []float32{4, 3}, v.Data[0])
	require.NotNil(t, v.NoData)
	assert.Equal(t, -32768.0, *v.NoData)
	assert.Equal(t, "int16", v.Attrs["dtype"])
}

func TestLoaderRequiresItemsAndBands(t *testing.T) {
	l := NewLoader(newFakeReader(), identityProjector{}, nil)
	_, err := l.Load(context.Background(), nil, loadParams("red"))
	assert.ErrorIs(t, err, ErrNoSearch)

	items := []*stac.Item{newTestItem("a", "2023-06-01T10:00:00Z", "31UFU", 51, 10, "red")}
	_, err = l.Load(context.Background(), items, loadParams())
	assert.ErrorIs(t, err, ErrNoBands)
}
