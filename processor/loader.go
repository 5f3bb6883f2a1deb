package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh/terminal"
	"golang.org/x/sync/errgroup"
)

// DefaultResolution is used for projected output grids when no
// resolution is given.
const DefaultResolution = 10.0

// RasterReader reads one asset resampled onto geobox. Pixels outside
// the asset are filled with nodata, or NaN when nodata is nil.
type RasterReader interface {
	Read(ctx context.Context, href string, geobox utils.GeoBox, resampling string, nodata *float64) ([]float32, error)
}

// Loader turns STAC items into a Dataset.
type Loader struct {
	Reader    RasterReader
	Projector utils.Projector
	Logger    *zap.Logger
}

func NewLoader(reader RasterReader, projector utils.Projector, logger *zap.Logger) *Loader {
	return &Loader{Reader: reader, Projector: projector, Logger: utils.OrNop(logger)}
}

type itemGroup struct {
	key   string
	time  time.Time
	items []*stac.Item
}

// solarDay shifts t by the item longitude so that all acquisitions of a
// single overpass share a date.
func solarDay(item *stac.Item, t time.Time) (string, error) {
	c, err := item.Centroid()
	if err != nil {
		return "", err
	}
	offset := time.Duration(c[0] / 15.0 * float64(time.Hour))
	return t.Add(offset).Format("2006-01-02"), nil
}

func groupKey(item *stac.Item, t time.Time, groupBy string) (string, error) {
	switch groupBy {
	case GroupByID:
		return item.ID, nil
	case GroupByTime:
		return t.Format(time.RFC3339Nano), nil
	case GroupByMosaic:
		return GroupByMosaic, nil
	case GroupBySolarDay, "":
		return solarDay(item, t)
	default:
		return item.StringProperty(groupBy)
	}
}

// groupItems buckets items by the grouping mode. Groups are ordered by
// their earliest time unless preserveOrder keeps the order of first
// appearance.
func groupItems(items []*stac.Item, groupBy string, preserveOrder bool) ([]*itemGroup, error) {
	byKey := map[string]*itemGroup{}
	var groups []*itemGroup
	times := make(map[*stac.Item]time.Time, len(items))

	for _, it := range items {
		t, err := it.Datetime()
		if err != nil {
			return nil, err
		}
		times[it] = t
		key, err := groupKey(it, t, groupBy)
		if err != nil {
			return nil, fmt.Errorf("cannot group item %s by %s: %w", it.ID, groupBy, err)
		}
		g, ok := byKey[key]
		if !ok {
			g = &itemGroup{key: key, time: t}
			byKey[key] = g
			groups = append(groups, g)
		}
		if t.Before(g.time) {
			g.time = t
		}
		g.items = append(g.items, it)
	}

	if !preserveOrder {
		for _, g := range groups {
			sort.SliceStable(g.items, func(i, j int) bool {
				return times[g.items[i]].Before(times[g.items[j]])
			})
		}
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].time.Before(groups[j].time)
		})
	}
	return groups, nil
}

func (l *Loader) projectBounds(b orb.Bound, src, dst string) (orb.Bound, error) {
	if src == dst {
		return b, nil
	}
	if l.Projector == nil {
		return orb.Bound{}, fmt.Errorf("cannot project bounds from %s to %s without a projector", src, dst)
	}
	return utils.TransformBounds(l.Projector, b, src, dst)
}

// ResolveGeoBox picks the output grid. An explicit geobox wins, then
// like, geopolygon, bbox, lon/lat and x/y.
func (l *Loader) ResolveGeoBox(params *LoadParams) (utils.GeoBox, error) {
	if params.GeoBox != nil {
		return *params.GeoBox, nil
	}
	if params.Like != nil {
		return params.Like.GeoBox, nil
	}

	wgs84 := utils.EPSGString(utils.WGS84EPSG)
	var extent *utils.ROI
	switch {
	case params.GeoPolygon != nil:
		extent = params.GeoPolygon
	case params.BBox != nil:
		extent = utils.BoxROI(params.BBox.Min[0], params.BBox.Min[1], params.BBox.Max[0], params.BBox.Max[1])
	case params.Lon != nil:
		extent = utils.BoxROI(params.Lon.Min, params.Lat.Min, params.Lon.Max, params.Lat.Max)
	case params.X != nil:
	default:
		return utils.GeoBox{}, fmt.Errorf("no spatial extent given: set a geobox, like, geopolygon, bbox, lon/lat or x/y")
	}

	crs := params.CRS
	if crs == "" {
		crs = utils.UTMCRS
	}
	var bounds orb.Bound
	if extent != nil {
		var err error
		geographic := extent
		if extent.CRS != wgs84 && crs == utils.UTMCRS {
			if l.Projector == nil {
				return utils.GeoBox{}, fmt.Errorf("cannot resolve a UTM zone from %s without a projector", extent.CRS)
			}
			if geographic, err = extent.ToCRS(l.Projector, wgs84); err != nil {
				return utils.GeoBox{}, err
			}
		}
		if crs, err = utils.ResolveCRS(crs, geographic); err != nil {
			return utils.GeoBox{}, err
		}
		if bounds, err = l.projectBounds(extent.Bounds(), extent.CRS, crs); err != nil {
			return utils.GeoBox{}, err
		}
	} else {
		if crs == utils.UTMCRS {
			return utils.GeoBox{}, fmt.Errorf("x/y extents need an explicit CRS")
		}
		bounds = orb.Bound{Min: orb.Point{params.X.Min, params.Y.Min}, Max: orb.Point{params.X.Max, params.Y.Max}}
	}

	res := params.Resolution
	if res == 0 {
		if crs == wgs84 {
			return utils.GeoBox{}, fmt.Errorf("a resolution is required for geographic output")
		}
		res = DefaultResolution
	}
	gb, err := utils.GeoBoxFromBounds(bounds, res, crs)
	if err != nil {
		return utils.GeoBox{}, err
	}
	if params.Anchor == "center" {
		gb.Transform = gb.Transform.Multiply(utils.Translation(-0.5, -0.5))
	}
	return gb, nil
}

func (l *Loader) nodataFor(params *LoadParams, band string) (*float64, error) {
	if params.StacCfg == nil {
		return nil, nil
	}
	return params.StacCfg.AssetNoData(band)
}

func newProgressBar(total int, enabled bool) *progressbar.ProgressBar {
	if !enabled || !terminal.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("loading"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())
}

// Load reads every band of every item group onto a common grid. Within a
// group the first valid pixel wins.
func (l *Loader) Load(ctx context.Context, items []*stac.Item, params *LoadParams) (*utils.Dataset, error) {
	if len(items) == 0 {
		return nil, ErrNoSearch
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	geobox, err := l.ResolveGeoBox(params)
	if err != nil {
		return nil, err
	}
	groups, err := groupItems(items, params.GroupBy, params.PreserveOriginalOrder)
	if err != nil {
		return nil, err
	}

	times := make([]utils.TimeCoord, len(groups))
	for i, g := range groups {
		times[i] = utils.TimeCoord{Time: g.time}
	}
	ds := utils.NewDataset(geobox, times)
	size := geobox.Width * geobox.Height

	nodata := make([]*float64, len(params.Bands))
	for b, band := range params.Bands {
		nd, err := l.nodataFor(params, band)
		if err != nil {
			return nil, err
		}
		nodata[b] = nd
		fill := float32(math.NaN())
		if nd != nil && !math.IsNaN(*nd) {
			fill = float32(*nd)
		}
		v := &utils.Variable{Name: band, NoData: nd, Data: make([][]float32, len(groups)), Attrs: map[string]interface{}{}}
		for t := range groups {
			v.Data[t] = utils.NewFilledSlice(size, fill)
		}
		if nd != nil {
			v.Attrs["nodata"] = *nd
		}
		if params.DataType != "" {
			v.Attrs["dtype"] = params.DataType
		} else if params.StacCfg != nil && params.StacCfg.AssetDataType(band) != "" {
			v.Attrs["dtype"] = params.StacCfg.AssetDataType(band)
		}
		if err := ds.AddVariable(v); err != nil {
			return nil, err
		}
	}

	pool := params.Pool
	if pool <= 0 {
		pool = len(params.Bands)
	}
	bar := newProgressBar(len(groups)*len(params.Bands), params.Progress)

	l.Logger.Info("loading items",
		zap.Int("items", len(items)),
		zap.Int("groups", len(groups)),
		zap.Strings("bands", params.Bands),
		zap.String("crs", geobox.CRS),
		zap.Int("width", geobox.Width),
		zap.Int("height", geobox.Height))

	var mu sync.Mutex
	var failed int
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(pool)
	for t, g := range groups {
		for b, band := range params.Bands {
			t, g, b, band := t, g, b, band
			eg.Go(func() error {
				canvas := ds.Vars[band].Data[t]
				for _, it := range g.items {
					data, err := l.readAsset(egCtx, it, band, geobox, params, nodata[b])
					if err != nil {
						if params.FailOnError {
							return err
						}
						l.Logger.Warn("skipping asset", zap.String("item", it.ID), zap.String("band", band), zap.Error(err))
						mu.Lock()
						failed++
						mu.Unlock()
						continue
					}
					mergeFirstValid(canvas, data, nodata[b])
				}
				if bar != nil {
					bar.Add(1)
				}
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}
	if failed > 0 {
		l.Logger.Warn("some assets could not be read", zap.Int("failed", failed))
	}
	ds.Attrs["crs"] = geobox.CRS
	return ds, nil
}

func (l *Loader) readAsset(ctx context.Context, it *stac.Item, band string, geobox utils.GeoBox, params *LoadParams, nodata *float64) ([]float32, error) {
	href, err := it.AssetHref(band)
	if err != nil {
		return nil, err
	}
	if params.PatchURL != nil {
		if href, err = params.PatchURL(ctx, href); err != nil {
			return nil, fmt.Errorf("failed to patch url of %s/%s: %w", it.ID, band, err)
		}
	}
	data, err := l.Reader.Read(ctx, href, geobox, params.resamplingFor(band), nodata)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", it.ID, band, err)
	}
	if len(data) != geobox.Width*geobox.Height {
		return nil, fmt.Errorf("reader returned %d pixels for %s/%s, expected %d", len(data), it.ID, band, geobox.Width*geobox.Height)
	}
	return data, nil
}

func isMissing(v float32, nodata *float64) bool {
	if utils.IsNaN32(v) {
		return true
	}
	return nodata != nil && !math.IsNaN(*nodata) && v == float32(*nodata)
}

// mergeFirstValid fills the missing pixels of canvas from data.
func mergeFirstValid(canvas, data []float32, nodata *float64) {
	for i, val := range data {
		if isMissing(canvas[i], nodata) && !isMissing(val, nodata) {
			canvas[i] = val
		}
	}
}
