package utils

import (
	"encoding/json"
	"fmt"

	geo "github.com/nci/geometry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ROI is a region of interest: a polygonal geometry and its CRS.
type ROI struct {
	Geometry orb.Geometry
	CRS      string
}

// ParseROIFeature decodes a GeoJSON Feature holding a Polygon or
// MultiPolygon in the given CRS.
func ParseROIFeature(data []byte, crs string) (*ROI, error) {
	var feat geo.Feature
	err := json.Unmarshal(data, &feat)
	if err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}

	switch feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, fmt.Errorf("Geometry not supported. Only Features containing Polygon or MultiPolygon are available")
	}

	geomJSON, err := json.Marshal(feat.Geometry)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(geomJSON)
	if err != nil {
		return nil, fmt.Errorf("Problem decoding ROI geometry %s: %v", feat.Geometry.MarshalWKT(), err)
	}
	return NewROI(g.Coordinates, crs)
}

func NewROI(g orb.Geometry, crs string) (*ROI, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	case orb.Bound:
		g = g.(orb.Bound).ToPolygon()
	default:
		return nil, fmt.Errorf("ROI geometry must be a Polygon or MultiPolygon, got %s", g.GeoJSONType())
	}
	if crs == "" {
		crs = EPSGString(WGS84EPSG)
	}
	return &ROI{Geometry: g, CRS: crs}, nil
}

// BoxROI returns the rectangle west, south, east, north in EPSG:4326.
func BoxROI(west, south, east, north float64) *ROI {
	b := orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	return &ROI{Geometry: b.ToPolygon(), CRS: EPSGString(WGS84EPSG)}
}

func (r *ROI) Bounds() orb.Bound {
	return r.Geometry.Bound()
}

func (r *ROI) WKT() string {
	return wkt.MarshalString(r.Geometry)
}

// GeoJSON returns the bare GeoJSON geometry object.
func (r *ROI) GeoJSON() (json.RawMessage, error) {
	return geojson.NewGeometry(r.Geometry).MarshalJSON()
}

// Contains reports whether the point lies inside the ROI.
func (r *ROI) Contains(x, y float64) bool {
	pt := orb.Point{x, y}
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

// Centroid returns the centre of the ROI envelope.
func (r *ROI) Centroid() orb.Point {
	return r.Bounds().Center()
}

// ToCRS reprojects every vertex of the ROI.
func (r *ROI) ToCRS(p Projector, crs string) (*ROI, error) {
	if r.CRS == crs {
		return r, nil
	}
	projectRing := func(ring orb.Ring) (orb.Ring, error) {
		xs := make([]float64, len(ring))
		ys := make([]float64, len(ring))
		for i, pt := range ring {
			xs[i], ys[i] = pt[0], pt[1]
		}
		if err := p.TransformPoints(r.CRS, crs, xs, ys); err != nil {
			return nil, err
		}
		out := make(orb.Ring, len(ring))
		for i := range ring {
			out[i] = orb.Point{xs[i], ys[i]}
		}
		return out, nil
	}
	projectPolygon := func(poly orb.Polygon) (orb.Polygon, error) {
		out := make(orb.Polygon, len(poly))
		for i, ring := range poly {
			pr, err := projectRing(ring)
			if err != nil {
				return nil, err
			}
			out[i] = pr
		}
		return out, nil
	}

	switch g := r.Geometry.(type) {
	case orb.Polygon:
		poly, err := projectPolygon(g)
		if err != nil {
			return nil, err
		}
		return &ROI{Geometry: poly, CRS: crs}, nil
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(g))
		for i, poly := range g {
			pp, err := projectPolygon(poly)
			if err != nil {
				return nil, err
			}
			mp[i] = pp
		}
		return &ROI{Geometry: mp, CRS: crs}, nil
	}
	return nil, fmt.Errorf("Unsupported ROI geometry %T", r.Geometry)
}

// ResolveCRS turns the UTM placeholder into the UTM zone of the ROI
// centroid. The ROI must be in EPSG:4326 for that.
func ResolveCRS(crs string, roi *ROI) (string, error) {
	if crs != UTMCRS {
		return crs, nil
	}
	if roi == nil {
		return "", fmt.Errorf("CRS %q needs a search geometry to pick a zone", UTMCRS)
	}
	if roi.CRS != EPSGString(WGS84EPSG) {
		return "", fmt.Errorf("CRS %q can only be resolved from a geographic ROI, got %s", UTMCRS, roi.CRS)
	}
	c := roi.Centroid()
	return EPSGString(UTMZoneEPSG(c[0], c[1])), nil
}
