package processor

import (
	"context"
	"fmt"

	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
)

// Item grouping modes understood by the loader. Any other value is
// treated as an item property name.
const (
	GroupByID       = "id"
	GroupByTime     = "time"
	GroupBySolarDay = "solar_day"
	// Every item in a single time step.
	GroupByMosaic = "mosaic"
)

// PatchURL rewrites an asset href before it is read, typically to sign it.
type PatchURL func(ctx context.Context, href string) (string, error)

// Range is a closed coordinate interval.
type Range struct {
	Min, Max float64
}

// LoadParams controls how items are turned into a Dataset.
type LoadParams struct {
	Bands      []string
	GroupBy    string
	Resampling map[string]string
	DataType   string
	CRS        string
	Resolution float64

	// Concurrent asset reads. Zero means one per band.
	Pool                  int
	PreserveOriginalOrder bool
	Progress              bool
	FailOnError           bool

	// Spatial extent. The first one set wins, in this order.
	GeoBox     *utils.GeoBox
	Like       *utils.Dataset
	GeoPolygon *utils.ROI
	BBox       *orb.Bound
	Lon, Lat   *Range
	X, Y       *Range

	PatchURL PatchURL
	StacCfg  *utils.CollectionConfig
	// Pixel grid anchor: "edge" (default) or "center".
	Anchor string
}

// LoadOption configures ImageCollection.Load and TileCollection.Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	LoadParams
	percentile      *int
	spectralIndices []string
	maskNoData      bool
	crsInput        interface{}
	dstCRS          interface{}
}

func defaultLoadOptions() *loadOptions {
	return &loadOptions{
		LoadParams: LoadParams{
			GroupBy:     GroupBySolarDay,
			FailOnError: true,
		},
		maskNoData: true,
		crsInput:   utils.UTMCRS,
	}
}

// WithPercentile sets the composite percentile, 50 meaning median.
func WithPercentile(p int) LoadOption {
	return func(o *loadOptions) { o.percentile = &p }
}

func WithSpectralIndices(indices ...string) LoadOption {
	return func(o *loadOptions) { o.spectralIndices = indices }
}

func WithMaskNoData(mask bool) LoadOption {
	return func(o *loadOptions) { o.maskNoData = mask }
}

func WithGroupBy(groupBy string) LoadOption {
	return func(o *loadOptions) { o.GroupBy = groupBy }
}

// WithResampling sets the resampling of every band.
func WithResampling(method string) LoadOption {
	return func(o *loadOptions) { o.Resampling = map[string]string{"*": method} }
}

// WithBandResampling sets the resampling of individual bands.
func WithBandResampling(methods map[string]string) LoadOption {
	return func(o *loadOptions) { o.Resampling = methods }
}

func WithDataType(dtype string) LoadOption {
	return func(o *loadOptions) { o.DataType = dtype }
}

// WithCRS accepts an EPSG code, an "EPSG:n" string or "utm".
func WithCRS(crs interface{}) LoadOption {
	return func(o *loadOptions) { o.crsInput = crs }
}

func WithResolution(res float64) LoadOption {
	return func(o *loadOptions) { o.Resolution = res }
}

func WithPool(n int) LoadOption {
	return func(o *loadOptions) { o.Pool = n }
}

func WithPreserveOriginalOrder(preserve bool) LoadOption {
	return func(o *loadOptions) { o.PreserveOriginalOrder = preserve }
}

func WithProgress(progress bool) LoadOption {
	return func(o *loadOptions) { o.Progress = progress }
}

func WithFailOnError(fail bool) LoadOption {
	return func(o *loadOptions) { o.FailOnError = fail }
}

func WithGeoBox(gb utils.GeoBox) LoadOption {
	return func(o *loadOptions) { o.GeoBox = &gb }
}

// WithBBox sets the extent as west, south, east, north in EPSG:4326.
func WithBBox(west, south, east, north float64) LoadOption {
	return func(o *loadOptions) {
		b := orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
		o.BBox = &b
	}
}

func WithGeoPolygon(roi *utils.ROI) LoadOption {
	return func(o *loadOptions) { o.GeoPolygon = roi }
}

func WithLonLat(lon, lat Range) LoadOption {
	return func(o *loadOptions) { o.Lon, o.Lat = &lon, &lat }
}

// WithXY sets the extent in units of the output CRS.
func WithXY(x, y Range) LoadOption {
	return func(o *loadOptions) { o.X, o.Y = &x, &y }
}

// WithLike loads onto the grid of an existing dataset.
func WithLike(ds *utils.Dataset) LoadOption {
	return func(o *loadOptions) { o.Like = ds }
}

func WithPatchURL(patch PatchURL) LoadOption {
	return func(o *loadOptions) { o.PatchURL = patch }
}

func WithStacCfg(cfg *utils.CollectionConfig) LoadOption {
	return func(o *loadOptions) { o.StacCfg = cfg }
}

// WithDstCRS reprojects tile collections onto crs after loading.
func WithDstCRS(crs interface{}) LoadOption {
	return func(o *loadOptions) { o.dstCRS = crs }
}

func WithAnchor(anchor string) LoadOption {
	return func(o *loadOptions) { o.Anchor = anchor }
}

// hasExtent reports whether an explicit spatial extent was given.
// Lon/lat and x/y ranges do not count, as in the search bbox fallback.
func (p *LoadParams) hasExtent() bool {
	return p.GeoBox != nil || p.BBox != nil || p.GeoPolygon != nil || p.Like != nil
}

func (p *LoadParams) validate() error {
	if len(p.Bands) == 0 {
		return ErrNoBands
	}
	if (p.Lon == nil) != (p.Lat == nil) {
		return fmt.Errorf("lon and lat must be given together")
	}
	if (p.X == nil) != (p.Y == nil) {
		return fmt.Errorf("x and y must be given together")
	}
	switch p.Anchor {
	case "", "edge", "center":
	default:
		return fmt.Errorf("unsupported anchor %q", p.Anchor)
	}
	return nil
}

// resamplingFor resolves the resampling of band from the load
// parameters, then the collection config.
func (p *LoadParams) resamplingFor(band string) string {
	if r, ok := p.Resampling[band]; ok {
		return r
	}
	if r, ok := p.Resampling["*"]; ok {
		return r
	}
	if p.StacCfg != nil {
		return p.StacCfg.ResamplingFor(band)
	}
	return utils.DefaultResamplingMethod
}
