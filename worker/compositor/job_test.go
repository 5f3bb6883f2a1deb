package compositor

import (
	"context"
	"fmt"
	"testing"

	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	items  []*stac.Item
	params []*stac.SearchParams
}

func (c *fakeCatalog) Search(ctx context.Context, params *stac.SearchParams) ([]*stac.Item, error) {
	c.params = append(c.params, params)
	return c.items, nil
}

type identityProjector struct{}

func (identityProjector) TransformPoints(src, dst string, xs, ys []float64) error {
	if src != dst {
		return fmt.Errorf("cannot transform %s to %s", src, dst)
	}
	return nil
}

func testItem(id, datetime string, cloud float64) *stac.Item {
	return &stac.Item{
		Type:       "Feature",
		ID:         id,
		Collection: utils.Sentinel2Collection,
		BBox:       []float64{4, 52, 6, 54},
		Properties: map[string]interface{}{
			stac.PropDatetime:      datetime,
			stac.PropMGRSTile:      "31UFU",
			stac.PropRelativeOrbit: 51.0,
			stac.PropCloudCover:    cloud,
		},
		Assets: map[string]stac.Asset{"red": {Href: "mem://" + id + "/red"}},
	}
}

func intPtr(v int) *int {
	return &v
}

func TestJobStructRoundTrip(t *testing.T) {
	job := &Job{
		ID:              "job-1",
		Collection:      utils.Sentinel2Collection,
		BBox:            []float64{4, 52, 6, 54},
		Datetime:        "2023-06-01/2023-06-30",
		Query:           map[string]interface{}{"eo:cloud_cover": map[string]interface{}{"lt": 20.0}},
		Bands:           []string{"red", "nir"},
		Percentile:      intPtr(0),
		SpectralIndices: []string{"NDVI"},
		Output:          "s2/median.tif",
	}
	s, err := job.ToStruct()
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Fields["percentile"].GetNumberValue())

	out, err := JobFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, job, out)
}

func TestJobValidate(t *testing.T) {
	job := &Job{Collection: "x", BBox: []float64{0, 0, 1, 1}}
	require.NoError(t, job.Validate())
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, job.ID+".tif", job.OutputName())

	tests := map[string]*Job{
		"no collection":   {BBox: []float64{0, 0, 1, 1}},
		"no region":       {Collection: "x"},
		"short bbox":      {Collection: "x", BBox: []float64{0, 0, 1}},
		"bad percentile":  {Collection: "x", BBox: []float64{0, 0, 1, 1}, Percentile: intPtr(101)},
		"escaping output": {Collection: "x", BBox: []float64{0, 0, 1, 1}, Output: "../x.tif"},
		"absolute output": {Collection: "x", BBox: []float64{0, 0, 1, 1}, Output: "/tmp/x.tif"},
	}
	for name, job := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, job.Validate())
		})
	}

	err := (&Job{Collection: "x", BBox: []float64{0, 0, 1, 1}, Percentile: intPtr(-1)}).Validate()
	assert.ErrorIs(t, err, processor.ErrInvalidPercentile)
}

func TestJobROI(t *testing.T) {
	job := &Job{
		Collection: "x",
		Geometry:   []byte(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[4,52],[6,52],[6,54],[4,54],[4,52]]]}}`),
	}
	roi, err := job.ROI()
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", roi.CRS)
	assert.Equal(t, 4.0, roi.Bounds().Min[0])
	assert.Equal(t, 54.0, roi.Bounds().Max[1])
}

func TestJobApply(t *testing.T) {
	catalog := &fakeCatalog{items: []*stac.Item{
		testItem("a", "2023-06-01T10:00:00Z", 30),
		testItem("b", "2023-06-02T10:00:00Z", 10),
		testItem("c", "2023-06-03T10:00:00Z", 20),
	}}
	loader := processor.NewLoader(nil, identityProjector{}, nil)
	c := processor.NewImageCollection(catalog, utils.Sentinel2Collection, nil, loader, nil)

	job := &Job{
		Collection: utils.Sentinel2Collection,
		BBox:       []float64{4, 52, 6, 54},
		Datetime:   "2023-06-01/2023-06-30",
		MaxItems:   2,
		Bands:      []string{"red"},
		Resolution: 0.5,
		CRS:        "EPSG:4326",
		Percentile: intPtr(50),
	}
	c, err := job.Apply(context.Background(), c, nil)
	require.NoError(t, err)

	require.Len(t, catalog.params, 1)
	assert.Equal(t, "2023-06-01/2023-06-30", catalog.params[0].Datetime)
	require.Len(t, c.Items(), 2)
	assert.Equal(t, "b", c.Items()[0].ID)
	assert.Equal(t, "c", c.Items()[1].ID)

	params := c.LoadParams()
	require.NotNil(t, params.GeoBox)
	assert.Equal(t, 4, params.GeoBox.Width)
	assert.Equal(t, "EPSG:4326", params.CRS)

	job.MaskQuality = true
	_, err = job.Apply(context.Background(), processor.NewImageCollection(catalog, utils.Sentinel2Collection, nil, loader, nil), nil)
	assert.Error(t, err)
}
