package stac

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Property keys used by the compositing pipeline.
const (
	PropDatetime      = "datetime"
	PropStartDatetime = "start_datetime"
	PropCloudCover    = "eo:cloud_cover"
	PropMGRSTile      = "s2:mgrs_tile"
	PropRelativeOrbit = "sat:relative_orbit"
	PropProjEPSG      = "proj:epsg"
	PropProjShape     = "proj:shape"
	PropProjTransform = "proj:transform"
)

type Link struct {
	Rel    string                 `json:"rel"`
	Href   string                 `json:"href"`
	Type   string                 `json:"type,omitempty"`
	Method string                 `json:"method,omitempty"`
	Body   map[string]interface{} `json:"body,omitempty"`
	Merge  bool                   `json:"merge,omitempty"`
}

type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Item is a STAC Item: a GeoJSON Feature with assets.
type Item struct {
	Type        string                 `json:"type"`
	StacVersion string                 `json:"stac_version,omitempty"`
	ID          string                 `json:"id"`
	Collection  string                 `json:"collection,omitempty"`
	Geometry    json.RawMessage        `json:"geometry"`
	BBox        []float64              `json:"bbox,omitempty"`
	Properties  map[string]interface{} `json:"properties"`
	Assets      map[string]Asset       `json:"assets"`
	Links       []Link                 `json:"links,omitempty"`
}

// ItemCollection is a GeoJSON FeatureCollection of items, as returned by
// the search endpoint.
type ItemCollection struct {
	Type     string  `json:"type"`
	Features []*Item `json:"features"`
	Links    []Link  `json:"links,omitempty"`
}

// Datetime returns the nominal acquisition time, falling back to
// start_datetime for items covering a range.
func (it *Item) Datetime() (time.Time, error) {
	for _, key := range []string{PropDatetime, PropStartDatetime} {
		v, ok := it.Properties[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("item %s: property %s is not a string", it.ID, key)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("item %s: invalid %s %q: %v", it.ID, key, s, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("item %s has no datetime", it.ID)
}

func (it *Item) StringProperty(key string) (string, error) {
	v, ok := it.Properties[key]
	if !ok {
		return "", fmt.Errorf("item %s has no property %s", it.ID, key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (it *Item) FloatProperty(key string) (float64, error) {
	v, ok := it.Properties[key]
	if !ok {
		return math.NaN(), fmt.Errorf("item %s has no property %s", it.ID, key)
	}
	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case json.Number:
		return f.Float64()
	case string:
		return strconv.ParseFloat(f, 64)
	default:
		return math.NaN(), fmt.Errorf("item %s: property %s is %T, not a number", it.ID, key, v)
	}
}

func (it *Item) CloudCover() (float64, error) {
	return it.FloatProperty(PropCloudCover)
}

func (it *Item) MGRSTile() (string, error) {
	return it.StringProperty(PropMGRSTile)
}

func (it *Item) RelativeOrbit() (int, error) {
	f, err := it.FloatProperty(PropRelativeOrbit)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ProjTransform returns the six affine coefficients a, b, c, d, e, f of
// proj:transform.
func (it *Item) ProjTransform() ([]float64, error) {
	var out []float64
	switch v := it.Properties[PropProjTransform].(type) {
	case []float64:
		out = v
	case []interface{}:
		for _, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("item %s: %s holds %T, not a number", it.ID, PropProjTransform, e)
			}
			out = append(out, f)
		}
	case nil:
		return nil, fmt.Errorf("item %s has no property %s", it.ID, PropProjTransform)
	default:
		return nil, fmt.Errorf("item %s: property %s is %T, not an array", it.ID, PropProjTransform, v)
	}
	if len(out) < 6 {
		return nil, fmt.Errorf("item %s: %s needs 6 values, got %d", it.ID, PropProjTransform, len(out))
	}
	return out, nil
}

// Bound returns the item footprint envelope, from bbox when present.
func (it *Item) Bound() (orb.Bound, error) {
	if len(it.BBox) >= 4 {
		n := len(it.BBox) / 2
		return orb.Bound{
			Min: orb.Point{it.BBox[0], it.BBox[1]},
			Max: orb.Point{it.BBox[n], it.BBox[n+1]},
		}, nil
	}
	g, err := it.OrbGeometry()
	if err != nil {
		return orb.Bound{}, err
	}
	return g.Bound(), nil
}

func (it *Item) OrbGeometry() (orb.Geometry, error) {
	if len(it.Geometry) == 0 || string(it.Geometry) == "null" {
		return nil, fmt.Errorf("item %s has no geometry", it.ID)
	}
	g, err := geojson.UnmarshalGeometry(it.Geometry)
	if err != nil {
		return nil, fmt.Errorf("item %s: invalid geometry: %v", it.ID, err)
	}
	return g.Coordinates, nil
}

// Centroid returns the centre of the item envelope in EPSG:4326.
func (it *Item) Centroid() (orb.Point, error) {
	b, err := it.Bound()
	if err != nil {
		return orb.Point{}, err
	}
	return b.Center(), nil
}

// AssetHref returns the href of the named asset.
func (it *Item) AssetHref(name string) (string, error) {
	a, ok := it.Assets[name]
	if !ok {
		return "", fmt.Errorf("item %s has no asset %s", it.ID, name)
	}
	return a.Href, nil
}

func (ic *ItemCollection) NextLink() *Link {
	for i := range ic.Links {
		if ic.Links[i].Rel == "next" {
			return &ic.Links[i]
		}
	}
	return nil
}

// Collection is the subset of a STAC Collection used here.
type Collection struct {
	ID          string                            `json:"id"`
	Title       string                            `json:"title,omitempty"`
	Description string                            `json:"description,omitempty"`
	ItemAssets  map[string]map[string]interface{} `json:"item_assets,omitempty"`
	Assets      map[string]Asset                  `json:"assets,omitempty"`
	Links       []Link                            `json:"links,omitempty"`
}

// StorageOptions returns the xarray:storage_options of an item asset
// definition, if any.
func (c *Collection) StorageOptions(asset string) map[string]interface{} {
	def, ok := c.ItemAssets[asset]
	if !ok {
		return nil
	}
	opts, _ := def["xarray:storage_options"].(map[string]interface{})
	return opts
}
