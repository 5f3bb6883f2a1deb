package processor

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// SASTokenEnv holds the storage SAS token appended to snapshot asset hrefs.
const SASTokenEnv = "AZURE_STORAGE_SAS_TOKEN"

// TileSearcher finds the tiles of a collection intersecting a region
// given in EPSG:4326.
type TileSearcher interface {
	SearchTiles(ctx context.Context, collection string, roi *utils.ROI) ([]*stac.Item, error)
}

// CatalogTileSearcher searches a STAC API by intersection.
type CatalogTileSearcher struct {
	Catalog Catalog
	Logger  *zap.Logger
}

func (s *CatalogTileSearcher) SearchTiles(ctx context.Context, collection string, roi *utils.ROI) ([]*stac.Item, error) {
	intersects, err := roi.GeoJSON()
	if err != nil {
		return nil, err
	}
	params := &stac.SearchParams{Collections: []string{collection}, Intersects: intersects}
	utils.OrNop(s.Logger).Info("executing search", zap.Stringer("params", params))
	return s.Catalog.Search(ctx, params)
}

// ItemIndex looks up items by bounding box.
type ItemIndex interface {
	Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*stac.Item, error)
}

// IndexTileSearcher searches a snapshot index of a static catalog.
// Index hits are refined against the item bounds.
type IndexTileSearcher struct {
	Index ItemIndex
}

func (s *IndexTileSearcher) SearchTiles(ctx context.Context, collection string, roi *utils.ROI) ([]*stac.Item, error) {
	bounds := roi.Bounds()
	candidates, err := s.Index.Intersects(ctx, collection, bounds)
	if err != nil {
		return nil, err
	}
	var items []*stac.Item
	for _, it := range candidates {
		b, err := it.Bound()
		if err != nil {
			return nil, err
		}
		if b.Intersects(bounds) {
			items = append(items, it)
		}
	}
	return items, nil
}

// TileCollection loads a mosaic of static tiles, such as a DEM, over a
// region. Like ImageCollection it records the first error.
type TileCollection struct {
	Collection string

	searcher    TileSearcher
	loader      *Loader
	stacCfg     *utils.CollectionConfig
	logger      *zap.Logger
	closer      io.Closer
	patchURL    PatchURL
	postProcess func(ds *utils.Dataset) error

	searchParams *stac.SearchParams
	loadParams   *LoadParams
	dstCRS       string
	geometry     *utils.ROI
	items        []*stac.Item
	dataset      *utils.Dataset
	err          error
}

func NewTileCollection(searcher TileSearcher, collection string, config *utils.Config, loader *Loader, logger *zap.Logger) *TileCollection {
	if config == nil {
		config = utils.DefaultConfig()
	}
	t := &TileCollection{
		Collection: collection,
		searcher:   searcher,
		loader:     loader,
		logger:     utils.OrNop(logger),
	}
	if cc, ok := config.Collection(collection); ok {
		t.stacCfg = cc
	}
	return t
}

// NewCopernicusDEMCollection searches the Copernicus GLO-30 DEM in a
// STAC API.
func NewCopernicusDEMCollection(catalog Catalog, config *utils.Config, loader *Loader, logger *zap.Logger) *TileCollection {
	searcher := &CatalogTileSearcher{Catalog: catalog, Logger: logger}
	return NewTileCollection(searcher, utils.CopernicusDEMCollection, config, loader, logger)
}

// NewDeltaDTMCollection searches the DeltaDTM snapshot index. Pixels
// equal to nodata are set to 0 and nodata becomes NaN.
func NewDeltaDTMCollection(index ItemIndex, config *utils.Config, loader *Loader, logger *zap.Logger) *TileCollection {
	t := NewTileCollection(&IndexTileSearcher{Index: index}, utils.DeltaDTMCollection, config, loader, logger)
	t.postProcess = zeroNoData
	return t
}

// OpenCopernicusDEMCollection connects to the configured catalog and
// reads tiles through GDAL.
func OpenCopernicusDEMCollection(ctx context.Context, config *utils.Config, logger *zap.Logger) (*TileCollection, error) {
	if config == nil {
		config = utils.DefaultConfig()
	}
	client, err := OpenCatalog(ctx, config, utils.CopernicusDEMCollection, logger)
	if err != nil {
		return nil, err
	}
	loader := NewLoader(NewGDALReader(collectionIgnoresWarnings(config, utils.CopernicusDEMCollection)), NewGDALProjector(), logger)
	return NewCopernicusDEMCollection(client, config, loader, logger), nil
}

// OpenDeltaDTMCollection queries the snapshot index API at the
// configured index address, or the index database at the configured DSN.
// Asset hrefs are signed with the SAS token from the environment, when
// set. Close releases the index.
func OpenDeltaDTMCollection(config *utils.Config, logger *zap.Logger) (*TileCollection, error) {
	if config == nil {
		config = utils.DefaultConfig()
	}
	loader := NewLoader(NewGDALReader(collectionIgnoresWarnings(config, utils.DeltaDTMCollection)), NewGDALProjector(), logger)

	var t *TileCollection
	switch {
	case config.ServiceConfig.IndexAddress != "":
		opts := []stac.ClientOption{stac.WithLogger(logger)}
		if config.ServiceConfig.MemcacheAddress != "" {
			opts = append(opts, stac.WithCache(stac.NewMemcacheCache(config.ServiceConfig.MemcacheAddress, 3600)))
		}
		t = NewDeltaDTMCollection(stac.NewIndexClient(config.ServiceConfig.IndexAddress, opts...), config, loader, logger)
	case config.ServiceConfig.IndexDSN != "":
		index, err := stac.OpenSnapshotIndex(config.ServiceConfig.IndexDSN, 2, 4)
		if err != nil {
			return nil, err
		}
		t = NewDeltaDTMCollection(index, config, loader, logger)
		t.closer = index
	default:
		return nil, fmt.Errorf("an index address or DSN is required for %s", utils.DeltaDTMCollection)
	}
	if token := os.Getenv(SASTokenEnv); token != "" {
		t.patchURL = stac.StaticSigner{Query: token}.SignHref
	}
	return t, nil
}

func collectionIgnoresWarnings(config *utils.Config, collection string) bool {
	if cc, ok := config.Collection(collection); ok {
		return cc.IgnoreWarnings
	}
	return false
}

func (t *TileCollection) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func (t *TileCollection) Err() error {
	return t.err
}

func (t *TileCollection) Items() []*stac.Item {
	return t.items
}

func (t *TileCollection) SearchParams() *stac.SearchParams {
	return t.searchParams
}

func (t *TileCollection) LoadParams() *LoadParams {
	return t.loadParams
}

// Search finds the tiles intersecting roi.
func (t *TileCollection) Search(ctx context.Context, roi *utils.ROI) *TileCollection {
	if t.err != nil {
		return t
	}
	geom := roi
	wgs84 := utils.EPSGString(utils.WGS84EPSG)
	if roi.CRS != wgs84 {
		if t.loader == nil || t.loader.Projector == nil {
			t.err = fmt.Errorf("cannot reproject ROI from %s without a projector", roi.CRS)
			return t
		}
		var err error
		if geom, err = roi.ToCRS(t.loader.Projector, wgs84); err != nil {
			t.err = err
			return t
		}
	}
	intersects, err := geom.GeoJSON()
	if err != nil {
		t.err = err
		return t
	}
	t.searchParams = &stac.SearchParams{Collections: []string{t.Collection}, Intersects: intersects}
	t.geometry = geom

	items, err := t.searcher.SearchTiles(ctx, t.Collection, geom)
	if err != nil {
		t.err = err
		return t
	}
	if len(items) == 0 {
		t.err = ErrNoItems
		return t
	}
	t.items = items
	t.logger.Info("search finished", zap.String("collection", t.Collection), zap.Int("items", len(items)))
	return t
}

// Load configures loading. Bands default to the collection's default
// bands and every tile is mosaicked into one time step. Without a CRS
// or resolution the tiles load on their native grid. WithDstCRS
// reprojects the output grid.
func (t *TileCollection) Load(opts ...LoadOption) *TileCollection {
	if t.err != nil {
		return t
	}
	o := defaultLoadOptions()
	o.GroupBy = GroupByMosaic
	o.crsInput = nil
	for _, opt := range opts {
		opt(o)
	}
	params := o.LoadParams
	if len(params.Bands) == 0 && t.stacCfg != nil {
		params.Bands = t.stacCfg.DefaultBands
	}
	if len(params.Bands) == 0 {
		t.err = ErrNoBands
		return t
	}
	crs, err := utils.NormaliseCRS(o.crsInput)
	if err != nil {
		t.err = err
		return t
	}
	params.CRS = crs
	if params.PatchURL == nil {
		params.PatchURL = t.patchURL
	}
	if t.stacCfg != nil {
		params.StacCfg = t.stacCfg
	}

	t.dstCRS = ""
	if o.dstCRS != nil {
		if t.dstCRS, err = utils.NormaliseCRS(o.dstCRS); err != nil {
			t.err = err
			return t
		}
	}
	t.loadParams = &params
	return t
}

// WithBands sets the bands of a tile collection.
func WithBands(bands ...string) LoadOption {
	return func(o *loadOptions) { o.Bands = bands }
}

func (t *TileCollection) load(ctx context.Context) (*utils.Dataset, error) {
	params := *t.loadParams
	if !params.hasExtent() && t.geometry != nil {
		b := t.geometry.Bounds()
		params.BBox = &b
	}
	if params.GeoBox == nil && params.Like == nil {
		if err := nativeGrid(&params, t.items); err != nil {
			return nil, err
		}
	}
	geobox, err := t.loader.ResolveGeoBox(&params)
	if err != nil {
		return nil, err
	}
	if t.dstCRS != "" {
		dst, err := utils.ResolveCRS(t.dstCRS, t.geometry)
		if err != nil {
			return nil, err
		}
		if dst != geobox.CRS {
			if geobox, err = t.reprojectGeoBox(geobox, dst); err != nil {
				return nil, err
			}
			if params.Resampling == nil {
				params.Resampling = map[string]string{"*": "cubic"}
			}
		}
	}
	params.GeoBox = &geobox
	return t.loader.Load(ctx, t.items, &params)
}

// nativeGrid fills a missing CRS and resolution from the proj:epsg and
// proj:transform of the first tile that has both. The native resolution
// is only used when the CRS is the native one.
func nativeGrid(params *LoadParams, items []*stac.Item) error {
	if params.CRS != "" && params.Resolution > 0 {
		return nil
	}
	for _, it := range items {
		epsg, err := it.FloatProperty(stac.PropProjEPSG)
		if err != nil {
			continue
		}
		transform, err := it.ProjTransform()
		if err != nil || transform[0] == 0 {
			continue
		}
		crs := utils.EPSGString(int(epsg))
		if params.CRS == "" {
			params.CRS = crs
		}
		if params.Resolution == 0 && params.CRS == crs {
			params.Resolution = math.Abs(transform[0])
		}
		return nil
	}
	if params.CRS == "" {
		return fmt.Errorf("tiles have no %s and %s, set a CRS and resolution", stac.PropProjEPSG, stac.PropProjTransform)
	}
	return nil
}

// reprojectGeoBox keeps the pixel count of geobox over its extent in crs.
func (t *TileCollection) reprojectGeoBox(geobox utils.GeoBox, crs string) (utils.GeoBox, error) {
	if t.loader.Projector == nil {
		return utils.GeoBox{}, fmt.Errorf("cannot reproject to %s without a projector", crs)
	}
	bounds, err := utils.TransformBounds(t.loader.Projector, geobox.Bounds(), geobox.CRS, crs)
	if err != nil {
		return utils.GeoBox{}, err
	}
	return utils.GeoBoxFromShape(bounds, geobox.Height, geobox.Width, crs)
}

// Execute loads the tiles once and returns the dataset.
func (t *TileCollection) Execute(ctx context.Context) (*utils.Dataset, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.items == nil {
		return nil, ErrNoSearch
	}
	if t.dataset != nil {
		return t.dataset, nil
	}
	if t.loadParams == nil {
		t.Load()
		if t.err != nil {
			return nil, t.err
		}
	}
	t.logger.Info("loading dataset", zap.String("collection", t.Collection))
	ds, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	if t.postProcess != nil {
		if err := t.postProcess(ds); err != nil {
			return nil, err
		}
	}
	t.dataset = ds
	return ds, nil
}

// zeroNoData sets pixels equal to nodata to 0 and marks nodata as NaN.
// A NaN nodata matches no pixel.
func zeroNoData(ds *utils.Dataset) error {
	for _, name := range ds.Order {
		v := ds.Vars[name]
		if v.NoData == nil {
			return fmt.Errorf("band %s has no nodata value", name)
		}
		nd := *v.NoData
		for _, data := range v.Data {
			for i, val := range data {
				if val == float32(nd) {
					data[i] = 0
				}
			}
		}
		v.NoData = utils.Float64Ptr(math.NaN())
		v.Attrs["nodata"] = math.NaN()
	}
	return nil
}
