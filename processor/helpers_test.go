package processor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
)

var testBBox = []float64{4, 52, 6, 54}

func newTestItem(id, datetime, tile string, orbit int, cloud float64, bands ...string) *stac.Item {
	assets := map[string]stac.Asset{}
	for _, b := range bands {
		assets[b] = stac.Asset{Href: fmt.Sprintf("mem://%s/%s", id, b)}
	}
	return &stac.Item{
		Type:       "Feature",
		ID:         id,
		Collection: utils.Sentinel2Collection,
		BBox:       append([]float64(nil), testBBox...),
		Properties: map[string]interface{}{
			stac.PropDatetime:      datetime,
			stac.PropMGRSTile:      tile,
			stac.PropRelativeOrbit: float64(orbit),
			stac.PropCloudCover:    cloud,
		},
		Assets: assets,
	}
}

// fakeReader serves pixels registered per href. Unknown hrefs fail.
type fakeReader struct {
	mu    sync.Mutex
	data  map[string][]float32
	reads []string
}

func newFakeReader() *fakeReader {
	return &fakeReader{data: map[string][]float32{}}
}

func (r *fakeReader) set(href string, values ...float32) {
	r.data[href] = values
}

func (r *fakeReader) Read(ctx context.Context, href string, geobox utils.GeoBox, resampling string, nodata *float64) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, href)
	v, ok := r.data[href]
	if !ok {
		return nil, fmt.Errorf("no such asset %s", href)
	}
	size := geobox.Width * geobox.Height
	out := make([]float32, size)
	for i := range out {
		out[i] = v[i%len(v)]
	}
	return out, nil
}

// identityProjector only supports same-CRS transforms.
type identityProjector struct{}

func (identityProjector) TransformPoints(src, dst string, xs, ys []float64) error {
	if src != dst {
		return fmt.Errorf("cannot transform %s to %s", src, dst)
	}
	return nil
}

type fakeCatalog struct {
	items  []*stac.Item
	err    error
	params []*stac.SearchParams
}

func (c *fakeCatalog) Search(ctx context.Context, params *stac.SearchParams) ([]*stac.Item, error) {
	c.params = append(c.params, params)
	return c.items, c.err
}

type fakeIndex struct {
	items  []*stac.Item
	bounds []orb.Bound
}

func (i *fakeIndex) Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*stac.Item, error) {
	i.bounds = append(i.bounds, bounds)
	return i.items, nil
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testGeoBox(width, height int) utils.GeoBox {
	return utils.GeoBox{
		Width:     width,
		Height:    height,
		Transform: utils.Affine{A: 0.5, C: 4, E: -0.5, F: 54},
		CRS:       utils.EPSGString(utils.WGS84EPSG),
	}
}

func nan() float32 {
	return float32(math.NaN())
}

func ctxBackground() context.Context {
	return context.Background()
}

func boxROI() *utils.ROI {
	return utils.BoxROI(testBBox[0], testBBox[1], testBBox[2], testBBox[3])
}
