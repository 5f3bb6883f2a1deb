package processor

import (
	"context"
	"fmt"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"go.uber.org/zap"
)

// Catalog searches a STAC API.
type Catalog interface {
	Search(ctx context.Context, params *stac.SearchParams) ([]*stac.Item, error)
}

// ImageCollection chains search, load, mask, composite and spectral
// index configuration and runs them in Execute. The first error is
// recorded; later calls are no-ops and Execute returns it.
type ImageCollection struct {
	Collection string

	catalog Catalog
	loader  *Loader
	config  *utils.Config
	stacCfg *utils.CollectionConfig
	logger  *zap.Logger

	searchParams    *stac.SearchParams
	loadParams      *LoadParams
	bands           []string
	spectralIndices []string
	percentile      *int

	geometryMask *utils.ROI
	nodataMask   bool
	valueMask    []float64
	qualityMask  *utils.Mask

	geometry *utils.ROI
	items    []*stac.Item
	dataset  *utils.Dataset
	result   *utils.Dataset
	err      error
}

// NewImageCollection wires a collection to a catalog and a loader. The
// collection's loading defaults are taken from config when present.
func NewImageCollection(catalog Catalog, collection string, config *utils.Config, loader *Loader, logger *zap.Logger) *ImageCollection {
	if config == nil {
		config = utils.DefaultConfig()
	}
	c := &ImageCollection{
		Collection: collection,
		catalog:    catalog,
		loader:     loader,
		config:     config,
		logger:     utils.OrNop(logger),
	}
	if cc, ok := config.Collection(collection); ok {
		c.stacCfg = cc
	}
	return c
}

// OpenImageCollection connects to the catalog configured for collection,
// reading assets through GDAL.
func OpenImageCollection(ctx context.Context, config *utils.Config, collection string, logger *zap.Logger) (*ImageCollection, error) {
	if config == nil {
		config = utils.DefaultConfig()
	}
	client, err := OpenCatalog(ctx, config, collection, logger)
	if err != nil {
		return nil, err
	}
	ignoreWarnings := false
	if cc, ok := config.Collection(collection); ok {
		ignoreWarnings = cc.IgnoreWarnings
	}
	loader := NewLoader(NewGDALReader(ignoreWarnings), NewGDALProjector(), logger)
	return NewImageCollection(client, collection, config, loader, logger), nil
}

// NewS2Collection opens the Sentinel-2 L2A collection, whose assets all
// use NaN as nodata.
func NewS2Collection(ctx context.Context, config *utils.Config, logger *zap.Logger) (*ImageCollection, error) {
	return OpenImageCollection(ctx, config, utils.Sentinel2Collection, logger)
}

// OpenCatalog opens the STAC API of collection with the signer and
// cache from config.
func OpenCatalog(ctx context.Context, config *utils.Config, collection string, logger *zap.Logger) (*stac.Client, error) {
	url := config.ServiceConfig.CatalogURL
	opts := []stac.ClientOption{stac.WithLogger(logger)}
	if cc, ok := config.Collection(collection); ok {
		if cc.CatalogURL != "" {
			url = cc.CatalogURL
		}
		if cc.Signer == utils.SignerPlanetaryComputer {
			opts = append(opts, stac.WithSigner(stac.NewPlanetaryComputerSigner(utils.PlanetaryComputerSASURL, nil)))
		}
	}
	if config.ServiceConfig.MemcacheAddress != "" {
		opts = append(opts, stac.WithCache(stac.NewMemcacheCache(config.ServiceConfig.MemcacheAddress, 3600)))
	}
	return stac.Open(ctx, url, opts...)
}

func (c *ImageCollection) Err() error {
	return c.err
}

func (c *ImageCollection) Items() []*stac.Item {
	return c.items
}

func (c *ImageCollection) SearchParams() *stac.SearchParams {
	return c.searchParams
}

func (c *ImageCollection) LoadParams() *LoadParams {
	return c.loadParams
}

// Geometry returns the search region in EPSG:4326.
func (c *ImageCollection) Geometry() *utils.ROI {
	return c.geometry
}

func (c *ImageCollection) projector() utils.Projector {
	if c.loader == nil {
		return nil
	}
	return c.loader.Projector
}

func (c *ImageCollection) toGeographic(roi *utils.ROI) (*utils.ROI, error) {
	wgs84 := utils.EPSGString(utils.WGS84EPSG)
	if roi.CRS == wgs84 {
		return roi, nil
	}
	p := c.projector()
	if p == nil {
		return nil, fmt.Errorf("cannot reproject ROI from %s without a projector", roi.CRS)
	}
	return roi.ToCRS(p, wgs84)
}

// Search queries the catalog for items intersecting roi within
// datetimeRange ("YYYY-MM-DD/YYYY-MM-DD"). query holds extra property
// filters such as {"eo:cloud_cover": {"lt": 20}}. filter may reorder or
// drop the results.
func (c *ImageCollection) Search(ctx context.Context, roi *utils.ROI, datetimeRange string, query map[string]interface{}, filter FilterFunc) *ImageCollection {
	if c.err != nil {
		return c
	}
	geom, err := c.toGeographic(roi)
	if err != nil {
		c.err = err
		return c
	}
	intersects, err := geom.GeoJSON()
	if err != nil {
		c.err = err
		return c
	}
	c.searchParams = &stac.SearchParams{
		Collections: []string{c.Collection},
		Intersects:  intersects,
		Datetime:    datetimeRange,
		Query:       query,
	}
	c.geometry = geom

	c.logger.Info("executing search", zap.Stringer("params", c.searchParams))
	if c.err = c.search(ctx); c.err != nil {
		return c
	}

	if filter != nil {
		c.logger.Info("applying custom filter function")
		items, err := filter(c.items)
		if err != nil {
			c.err = fmt.Errorf("error in filter function: %w", err)
			return c
		}
		c.items = items
	}
	return c
}

func (c *ImageCollection) search(ctx context.Context) error {
	items, err := c.catalog.Search(ctx, c.searchParams)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrNoItems
	}
	c.items = items
	c.logger.Info("search finished", zap.String("collection", c.Collection), zap.Int("items", len(items)))
	return nil
}

// Load configures how the items are read. bands is required.
func (c *ImageCollection) Load(bands []string, opts ...LoadOption) *ImageCollection {
	if c.err != nil {
		return c
	}
	if len(bands) == 0 {
		c.err = ErrNoBands
		return c
	}
	o := defaultLoadOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.percentile != nil && (*o.percentile < 0 || *o.percentile > 100) {
		c.err = ErrInvalidPercentile
		return c
	}

	c.bands = bands
	c.spectralIndices = o.spectralIndices
	c.percentile = o.percentile
	c.nodataMask = o.maskNoData

	crs, err := utils.NormaliseCRS(o.crsInput)
	if err != nil {
		c.err = err
		return c
	}

	params := o.LoadParams
	params.Bands = bands
	params.CRS = crs
	if params.GeoBox == nil && params.Resolution > 0 && c.geometry != nil {
		gb, err := c.createGeoBox(c.geometry, params.Resolution, crs)
		if err != nil {
			c.err = err
			return c
		}
		params.GeoBox = &gb
		params.Resolution = 0
	}
	if c.stacCfg != nil {
		params.StacCfg = c.stacCfg
	}
	c.loadParams = &params
	return c
}

// createGeoBox builds a grid of the given resolution covering geometry.
func (c *ImageCollection) createGeoBox(geometry *utils.ROI, resolution float64, crs string) (utils.GeoBox, error) {
	if crs == "" {
		crs = geometry.CRS
	}
	crs, err := utils.ResolveCRS(crs, geometry)
	if err != nil {
		return utils.GeoBox{}, err
	}
	bounds := geometry.Bounds()
	if crs != geometry.CRS {
		p := c.projector()
		if p == nil {
			return utils.GeoBox{}, fmt.Errorf("cannot project geometry to %s without a projector", crs)
		}
		if bounds, err = utils.TransformBounds(p, bounds, geometry.CRS, crs); err != nil {
			return utils.GeoBox{}, err
		}
	}
	return utils.GeoBoxFromBounds(bounds, resolution, crs)
}

// Mask configures the masks applied after loading: pixels outside
// geometry, nodata values and any of values become NaN.
func (c *ImageCollection) Mask(geometry *utils.ROI, nodata bool, values []float64) *ImageCollection {
	if c.err != nil {
		return c
	}
	c.geometryMask = geometry
	c.nodataMask = nodata
	c.valueMask = values
	return c
}

// MaskQuality masks pixels flagged by a quality band, which must be
// among the loaded bands.
func (c *ImageCollection) MaskQuality(mask *utils.Mask) *ImageCollection {
	if c.err != nil {
		return c
	}
	c.qualityMask = mask
	return c
}

func (c *ImageCollection) AddSpectralIndices(indices []string) *ImageCollection {
	if c.err != nil {
		return c
	}
	c.spectralIndices = indices
	return c
}

// Composite requests a percentile composite (50 for median) of the
// items, optionally filtered first.
func (c *ImageCollection) Composite(percentile int, filter FilterFunc) *ImageCollection {
	if c.err != nil {
		return c
	}
	if percentile < 0 || percentile > 100 {
		c.err = ErrInvalidPercentile
		return c
	}
	c.logger.Info("applying percentile composite", zap.Int("percentile", percentile))
	if len(c.items) == 0 {
		c.err = ErrNoSearch
		return c
	}
	if filter != nil {
		c.logger.Info("applying custom filter function")
		items, err := filter(c.items)
		if err != nil {
			c.err = fmt.Errorf("error in filter function: %w", err)
			return c
		}
		c.items = items
	}
	c.percentile = &percentile
	return c
}

func (c *ImageCollection) load(ctx context.Context) (*utils.Dataset, error) {
	if len(c.items) == 0 {
		return nil, ErrNoSearch
	}
	if c.loadParams == nil {
		return nil, fmt.Errorf("load parameters are not configured. Call Load first")
	}
	params := *c.loadParams
	if c.compositing() {
		params.GroupBy = GroupByID
	}
	if !params.hasExtent() && c.geometry != nil {
		b := c.geometry.Bounds()
		params.BBox = &b
	}

	ds, err := c.loader.Load(ctx, c.items, &params)
	if err != nil {
		return nil, err
	}
	if ds.NumTimes() == len(c.items) {
		ordered, err := orderItemsLike(c.items, &params)
		if err != nil {
			return nil, err
		}
		if err := AddMetadataFromStac(ordered, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// applyMasks applies the quality mask, then the geometry mask. A
// geometry mask replaces the nodata and value masks.
func (c *ImageCollection) applyMasks(ds *utils.Dataset) error {
	if c.qualityMask != nil {
		if err := ApplyQualityMask(ds, c.qualityMask); err != nil {
			return err
		}
	}
	if c.geometryMask != nil {
		return ApplyGeometryMask(ds, c.geometryMask, c.projector())
	}
	if c.nodataMask {
		ApplyNoDataMask(ds)
	}
	if len(c.valueMask) > 0 {
		ApplyValueMask(ds, c.valueMask)
	}
	return nil
}

// compositing reports whether Execute reduces the time dimension. A
// percentile of 0 leaves the stack as loaded.
func (c *ImageCollection) compositing() bool {
	return c.percentile != nil && *c.percentile != 0
}

// Execute runs the configured pipeline and returns the dataset. Later
// calls return the same dataset.
func (c *ImageCollection) Execute(ctx context.Context) (*utils.Dataset, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.result != nil {
		return c.result, nil
	}
	if c.items == nil {
		if c.searchParams == nil {
			return nil, ErrNoSearch
		}
		if err := c.search(ctx); err != nil {
			return nil, err
		}
	}

	if c.dataset == nil {
		ds, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.dataset = ds
	}

	ds := c.dataset.Clone()
	if err := c.applyMasks(ds); err != nil {
		return nil, err
	}

	if c.compositing() {
		composite, err := Composite(ds, *c.percentile)
		if err != nil {
			return nil, err
		}
		ds = composite
	}

	if len(c.spectralIndices) > 0 {
		if err := CalculateIndices(ds, c.spectralIndices, c.config); err != nil {
			return nil, err
		}
	}
	c.result = ds
	return ds, nil
}
