package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const WGS84EPSG = 4326

// UTMCRS is the CRS placeholder resolved to the UTM zone of the load geometry.
const UTMCRS = "utm"

// GeoBox describes a pixel grid: its shape, its pixel-to-CRS transform
// and its CRS as an "EPSG:n" string.
type GeoBox struct {
	Width     int
	Height    int
	Transform Affine
	CRS       string
}

func (g GeoBox) Shape() (int, int) {
	return g.Height, g.Width
}

func (g GeoBox) IsEmpty() bool {
	return g.Width <= 0 || g.Height <= 0
}

// Resolution returns the pixel size along x and y. The y resolution is
// negative for north-up grids.
func (g GeoBox) Resolution() (float64, float64) {
	return math.Hypot(g.Transform.A, g.Transform.D), math.Copysign(math.Hypot(g.Transform.B, g.Transform.E), g.Transform.E)
}

func (g GeoBox) PixelCenter(col, row int) (float64, float64) {
	return g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Bounds returns the envelope of the four grid corners in CRS units.
func (g GeoBox) Bounds() orb.Bound {
	corners := [][2]float64{
		{0, 0},
		{float64(g.Width), 0},
		{0, float64(g.Height)},
		{float64(g.Width), float64(g.Height)},
	}
	var b orb.Bound
	for i, c := range corners {
		x, y := g.Transform.Apply(c[0], c[1])
		if i == 0 {
			b = orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x, y}}
			continue
		}
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

// EPSG returns the numeric code of the geobox CRS.
func (g GeoBox) EPSG() (int, error) {
	return ParseEPSG(g.CRS)
}

// GeoBoxFromBounds builds a north-up grid covering bounds whose origin
// is aligned to multiples of the resolution.
func GeoBoxFromBounds(bounds orb.Bound, resolution float64, crs string) (GeoBox, error) {
	if resolution <= 0 {
		return GeoBox{}, fmt.Errorf("Resolution must be positive, got %v", resolution)
	}
	x0 := math.Floor(bounds.Min[0]/resolution) * resolution
	y1 := math.Ceil(bounds.Max[1]/resolution) * resolution
	width := int(math.Ceil((bounds.Max[0] - x0) / resolution))
	height := int(math.Ceil((y1 - bounds.Min[1]) / resolution))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return GeoBox{
		Width:     width,
		Height:    height,
		Transform: Affine{A: resolution, C: x0, E: -resolution, F: y1},
		CRS:       crs,
	}, nil
}

// GeoBoxFromShape builds a north-up grid covering bounds with an exact shape.
func GeoBoxFromShape(bounds orb.Bound, height, width int, crs string) (GeoBox, error) {
	if height <= 0 || width <= 0 {
		return GeoBox{}, fmt.Errorf("Invalid grid shape (%d, %d)", height, width)
	}
	xRes := (bounds.Max[0] - bounds.Min[0]) / float64(width)
	yRes := (bounds.Max[1] - bounds.Min[1]) / float64(height)
	return GeoBox{
		Width:     width,
		Height:    height,
		Transform: Affine{A: xRes, C: bounds.Min[0], E: -yRes, F: bounds.Max[1]},
		CRS:       crs,
	}, nil
}

// ParseEPSG accepts "EPSG:32631", "epsg:4326" and "4326".
func ParseEPSG(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		if !strings.EqualFold(s[:idx], "EPSG") {
			return 0, fmt.Errorf("Unsupported CRS authority in %q", crs)
		}
		s = s[idx+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("Invalid CRS %q: %v", crs, err)
	}
	return code, nil
}

func EPSGString(code int) string {
	return fmt.Sprintf("EPSG:%d", code)
}

// NormaliseCRS turns user input into "EPSG:n". The UTM placeholder is
// returned unchanged.
func NormaliseCRS(crs interface{}) (string, error) {
	switch v := crs.(type) {
	case nil:
		return "", nil
	case int:
		return EPSGString(v), nil
	case string:
		if strings.EqualFold(strings.TrimSpace(v), UTMCRS) {
			return UTMCRS, nil
		}
		if strings.TrimSpace(v) == "" {
			return "", nil
		}
		code, err := ParseEPSG(v)
		if err != nil {
			return "", err
		}
		return EPSGString(code), nil
	default:
		return "", fmt.Errorf("Unsupported CRS type %T", crs)
	}
}

// UTMZoneEPSG returns the WGS84 UTM zone EPSG code containing lon/lat.
func UTMZoneEPSG(lon, lat float64) int {
	zone := int(math.Floor((lon+180.0)/6.0)) + 1
	if zone > 60 {
		zone = 60
	}
	if zone < 1 {
		zone = 1
	}
	if lat < 0 {
		return 32700 + zone
	}
	return 32600 + zone
}

// Projector transforms coordinates between CRSs. Reprojection math is
// delegated to GDAL in production.
type Projector interface {
	TransformPoints(srcCRS, dstCRS string, xs, ys []float64) error
}

// TransformBounds projects the densified edges of bounds and returns
// their envelope in dstCRS.
func TransformBounds(p Projector, bounds orb.Bound, srcCRS, dstCRS string) (orb.Bound, error) {
	if srcCRS == dstCRS {
		return bounds, nil
	}
	const steps = 21
	var xs, ys []float64
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		x := bounds.Min[0] + t*(bounds.Max[0]-bounds.Min[0])
		y := bounds.Min[1] + t*(bounds.Max[1]-bounds.Min[1])
		xs = append(xs, x, x, bounds.Min[0], bounds.Max[0])
		ys = append(ys, bounds.Min[1], bounds.Max[1], y, y)
	}
	if err := p.TransformPoints(srcCRS, dstCRS, xs, ys); err != nil {
		return orb.Bound{}, err
	}
	var out orb.Bound
	found := false
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			continue
		}
		pt := orb.Point{xs[i], ys[i]}
		if !found {
			out = orb.Bound{Min: pt, Max: pt}
			found = true
			continue
		}
		out = out.Extend(pt)
	}
	if !found {
		return orb.Bound{}, fmt.Errorf("No bounds vertex could be transformed from %s to %s", srcCRS, dstCRS)
	}
	return out, nil
}
