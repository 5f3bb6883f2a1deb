package utils

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/interp"
)

// RasterCenter returns the centre of the grid in pixel coordinates.
func RasterCenter(ds *Dataset) (float64, float64) {
	return float64(ds.GeoBox.Width) / 2, float64(ds.GeoBox.Height) / 2
}

// RotateRaster rotates the raster by angle degrees (counter-clockwise)
// about pivot, given in pixel coordinates, or about the grid origin when
// pivot is nil. The output keeps the input shape and CRS, is resampled
// with nearest neighbour and its x/y labels become pixel indices.
func RotateRaster(ds *Dataset, angle float64, pivot *Point) (*Dataset, error) {
	src := ds.GeoBox.Transform
	dst := src.Multiply(Rotation(angle, pivot))
	// flip rows so the rotated grid is not mirrored
	dst = dst.Multiply(Affine{A: 1, E: -1, F: float64(ds.GeoBox.Height)})

	srcInv, err := src.Inverse()
	if err != nil {
		return nil, fmt.Errorf("Cannot rotate raster: %v", err)
	}

	width, height := ds.GeoBox.Width, ds.GeoBox.Height
	// for every destination pixel, the source pixel it samples from
	lookup := make([]int, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			wx, wy := dst.Apply(float64(col)+0.5, float64(row)+0.5)
			sx, sy := srcInv.Apply(wx, wy)
			c := int(math.Floor(sx))
			r := int(math.Floor(sy))
			if c < 0 || r < 0 || c >= width || r >= height {
				lookup[row*width+col] = -1
			} else {
				lookup[row*width+col] = r*width + c
			}
		}
	}

	out := ds.Clone()
	out.GeoBox.Transform = dst
	for _, name := range out.Order {
		v := out.Vars[name]
		srcVar := ds.Vars[name]
		fill := float32(math.NaN())
		if v.NoData != nil && !math.IsNaN(*v.NoData) {
			fill = float32(*v.NoData)
		}
		for t := range v.Data {
			for i, k := range lookup {
				if k < 0 {
					v.Data[t][i] = fill
				} else {
					v.Data[t][i] = srcVar.Data[t][k]
				}
			}
		}
	}
	out.ResetCoordsToIndex()
	return out, nil
}

// Interpolation methods accepted by InterpolateRaster.
const (
	InterpLinear  = "linear"
	InterpNearest = "nearest"
	InterpZero    = "zero"
	InterpSLinear = "slinear"
	InterpCubic   = "cubic"
	InterpAkima   = "akima"
	InterpPchip   = "pchip"
)

type nearestPredictor struct {
	xs, ys []float64
}

func (n *nearestPredictor) Fit(xs, ys []float64) error {
	if len(xs) != len(ys) || len(xs) == 0 {
		return fmt.Errorf("nearest interpolation needs matching, non-empty inputs")
	}
	n.xs, n.ys = xs, ys
	return nil
}

func (n *nearestPredictor) Predict(x float64) float64 {
	i := sort.SearchFloat64s(n.xs, x)
	switch {
	case i == 0:
		return n.ys[0]
	case i == len(n.xs):
		return n.ys[len(n.ys)-1]
	case x-n.xs[i-1] <= n.xs[i]-x:
		return n.ys[i-1]
	default:
		return n.ys[i]
	}
}

// zeroPredictor is a zero order spline: the value of the previous knot.
type zeroPredictor struct {
	xs, ys []float64
}

func (z *zeroPredictor) Fit(xs, ys []float64) error {
	if len(xs) != len(ys) || len(xs) == 0 {
		return fmt.Errorf("zero order interpolation needs matching, non-empty inputs")
	}
	z.xs, z.ys = xs, ys
	return nil
}

func (z *zeroPredictor) Predict(x float64) float64 {
	i := sort.SearchFloat64s(z.xs, x)
	if i < len(z.xs) && z.xs[i] == x {
		return z.ys[i]
	}
	if i == 0 {
		return z.ys[0]
	}
	return z.ys[i-1]
}

func newPredictor(method string) (interp.FittablePredictor, error) {
	switch method {
	case InterpLinear, InterpSLinear:
		return &interp.PiecewiseLinear{}, nil
	case InterpNearest:
		return &nearestPredictor{}, nil
	case InterpZero:
		return &zeroPredictor{}, nil
	case InterpCubic:
		return &interp.NotAKnotCubic{}, nil
	case InterpAkima:
		return &interp.AkimaSpline{}, nil
	case InterpPchip:
		return &interp.FritschButland{}, nil
	default:
		return nil, fmt.Errorf("Interpolation method %q is not supported", method)
	}
}

// minKnots is the number of distinct coordinates each method needs.
var minKnots = map[string]int{
	InterpLinear:  2,
	InterpSLinear: 2,
	InterpNearest: 1,
	InterpZero:    1,
	InterpCubic:   4,
	InterpAkima:   3,
	InterpPchip:   2,
}

// Linspace returns n evenly spaced samples over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

func minMax(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// interp1D resamples a line sampled at coords onto targets. Coords do
// not need to be sorted.
func interp1D(method string, coords, values, targets []float64) (out []float64, err error) {
	out = make([]float64, len(targets))
	if len(coords) == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out, nil
	}

	idx := make([]int, len(coords))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return coords[idx[i]] < coords[idx[j]] })
	xs := make([]float64, len(coords))
	ys := make([]float64, len(coords))
	for i, k := range idx {
		xs[i] = coords[k]
		ys[i] = values[k]
	}

	if n := minKnots[method]; len(xs) < n {
		return nil, fmt.Errorf("%s interpolation needs at least %d coordinates, got %d", method, n, len(xs))
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return nil, fmt.Errorf("%s interpolation needs distinct coordinates, %g is repeated", method, xs[i])
		}
	}

	p, err := newPredictor(method)
	if err != nil {
		return nil, err
	}
	// gonum fitters panic on inputs they cannot fit
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s interpolation failed: %v", method, r)
		}
	}()
	if err := p.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("%s interpolation failed: %v", method, err)
	}
	for i, x := range targets {
		out[i] = p.Predict(x)
	}
	return out, nil
}

// InterpolateRaster resamples every band onto a regular grid of
// yShape x xShape samples spanning the existing coordinate range. The
// target shape is swapped when the raster is taller than it is wide. The
// new transform is the source transform scaled by the change in pixel
// size.
func InterpolateRaster(ds *Dataset, yShape, xShape int, method string) (*Dataset, error) {
	if yShape <= 0 || xShape <= 0 {
		return nil, fmt.Errorf("Invalid interpolation shape (%d, %d)", yShape, xShape)
	}
	if _, err := newPredictor(method); err != nil {
		return nil, err
	}
	if ds.GeoBox.Width < ds.GeoBox.Height {
		yShape, xShape = xShape, yShape
	}

	yMin, yMax := minMax(ds.Y)
	xMin, xMax := minMax(ds.X)
	newY := Linspace(yMin, yMax, yShape)
	newX := Linspace(xMin, xMax, xShape)

	srcW, srcH := ds.GeoBox.Width, ds.GeoBox.Height
	out := &Dataset{
		GeoBox: GeoBox{
			Width:     xShape,
			Height:    yShape,
			Transform: ds.GeoBox.Transform.Multiply(Scale(float64(srcW)/float64(xShape), float64(srcH)/float64(yShape))),
			CRS:       ds.GeoBox.CRS,
		},
		X:     newX,
		Y:     newY,
		Times: append([]TimeCoord(nil), ds.Times...),
		Vars:  make(map[string]*Variable, len(ds.Vars)),
		Order: append([]string(nil), ds.Order...),
		Attrs: copyAttrs(ds.Attrs),
	}

	row := make([]float64, srcW)
	col := make([]float64, srcH)
	for _, name := range ds.Order {
		v := ds.Vars[name]
		nv := &Variable{Name: v.Name, NoData: v.NoData, Attrs: copyAttrs(v.Attrs), Data: make([][]float32, len(v.Data))}
		for t, data := range v.Data {
			// along x first, then along y
			tmp := make([]float64, srcH*xShape)
			for r := 0; r < srcH; r++ {
				for c := 0; c < srcW; c++ {
					row[c] = float64(data[r*srcW+c])
				}
				res, err := interp1D(method, ds.X, row, newX)
				if err != nil {
					return nil, err
				}
				copy(tmp[r*xShape:(r+1)*xShape], res)
			}

			dst := make([]float32, yShape*xShape)
			for c := 0; c < xShape; c++ {
				for r := 0; r < srcH; r++ {
					col[r] = tmp[r*xShape+c]
				}
				res, err := interp1D(method, ds.Y, col, newY)
				if err != nil {
					return nil, err
				}
				for r, val := range res {
					dst[r*xShape+c] = float32(val)
				}
			}
			nv.Data[t] = dst
		}
		out.Vars[name] = nv
	}
	return out, nil
}

// TrimOuterNaNs crops the raster to the bounding box of valid pixels of
// its first band, shrunk by cropSize pixels on every side. Valid means
// not NaN, or not equal to nodata when given. The input is returned as-is
// when there is nothing valid to keep.
func TrimOuterNaNs(ds *Dataset, cropSize int, nodata *float64) (*Dataset, error) {
	ref, err := ds.FirstVar()
	if err != nil {
		return nil, err
	}

	width, height := ds.GeoBox.Width, ds.GeoBox.Height
	yMin, yMax, xMin, xMax := height, -1, width, -1
	for _, data := range ref.Data {
		for i, val := range data {
			var valid bool
			if nodata != nil {
				valid = float64(val) != *nodata
			} else {
				valid = !IsNaN32(val)
			}
			if !valid {
				continue
			}
			r, c := i/width, i%width
			if r < yMin {
				yMin = r
			}
			if r > yMax {
				yMax = r
			}
			if c < xMin {
				xMin = c
			}
			if c > xMax {
				xMax = c
			}
		}
	}
	if yMax < 0 || xMax < 0 {
		return ds, nil
	}

	yMin, yMax = yMin+cropSize, yMax-cropSize
	xMin, xMax = xMin+cropSize, xMax-cropSize
	if yMin > yMax || xMin > xMax {
		return ds, nil
	}
	return ds.Isel(yMin, yMax+1, xMin, xMax+1)
}

// ExtractDataInsidePolygon slices the raster to the pixel window spanned
// by the polygon's exterior ring. Each vertex is matched to the pixel
// whose centre is closest in Manhattan distance, which also works on
// rotated grids.
func ExtractDataInsidePolygon(ds *Dataset, polygon orb.Polygon) (*Dataset, error) {
	if len(polygon) == 0 || len(polygon[0]) == 0 {
		return nil, fmt.Errorf("Polygon has no exterior ring")
	}
	width, height := ds.GeoBox.Width, ds.GeoBox.Height
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("Cannot extract from an empty raster")
	}

	xc := make([]float64, width*height)
	yc := make([]float64, width*height)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			xc[r*width+c], yc[r*width+c] = ds.GeoBox.PixelCenter(c, r)
		}
	}

	xLo, xHi, yLo, yHi := width, -1, height, -1
	for _, pt := range polygon[0] {
		best := 0
		bestDist := math.Inf(1)
		for i := range xc {
			d := math.Abs(xc[i]-pt[0]) + math.Abs(yc[i]-pt[1])
			if d < bestDist {
				best = i
				bestDist = d
			}
		}
		r, c := best/width, best%width
		if c < xLo {
			xLo = c
		}
		if c > xHi {
			xHi = c
		}
		if r < yLo {
			yLo = r
		}
		if r > yHi {
			yHi = r
		}
	}
	return ds.Isel(yLo, yHi+1, xLo, xHi+1)
}

// ExtractAndSetNoData finds the nodata value shared by withNoData and
// writes it to every band in withoutNoData.
func ExtractAndSetNoData(ds *Dataset, withNoData, withoutNoData []string) (float64, error) {
	var values []float64
	for _, name := range withNoData {
		v, ok := ds.Vars[name]
		if !ok {
			return 0, fmt.Errorf("Variable %s not found", name)
		}
		if v.NoData != nil {
			values = append(values, *v.NoData)
		}
	}

	var unique []float64
	for _, val := range values {
		seen := false
		for _, u := range unique {
			if u == val || (math.IsNaN(u) && math.IsNaN(val)) {
				seen = true
				break
			}
		}
		if !seen {
			unique = append(unique, val)
		}
	}

	switch len(unique) {
	case 0:
		return 0, fmt.Errorf("No nodata value found for the specified variables")
	case 1:
	default:
		return 0, fmt.Errorf("Multiple nodata values found. Ensure consistent nodata values")
	}

	common := unique[0]
	for _, name := range withoutNoData {
		v, ok := ds.Vars[name]
		if !ok {
			return 0, fmt.Errorf("Variable %s not found", name)
		}
		v.NoData = Float64Ptr(common)
	}
	return common, nil
}
