package utils

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeCoord holds the coordinates attached to one step of the time
// dimension. The STAC fields are only populated when the step maps to
// exactly one catalog item.
type TimeCoord struct {
	Time          time.Time
	StacID        string
	MGRSTile      string
	CloudCover    float64
	RelativeOrbit int
	HasMetadata   bool

	// Set on composites.
	StartDatetime time.Time
	EndDatetime   time.Time
}

// Variable is one band of a dataset. Data holds one row-major
// Height*Width slice per time step. Missing values are NaN.
type Variable struct {
	Name   string
	Data   [][]float32
	NoData *float64
	Attrs  map[string]interface{}
}

// Dataset is a time stack of co-registered bands on a single GeoBox.
// X and Y hold the 1-D coordinate labels of the grid.
type Dataset struct {
	GeoBox GeoBox
	X      []float64
	Y      []float64
	Times  []TimeCoord
	Vars   map[string]*Variable
	Order  []string
	Attrs  map[string]interface{}
}

func Float64Ptr(v float64) *float64 {
	return &v
}

// NewDataset creates an empty dataset on geobox with pixel-centre
// coordinate labels.
func NewDataset(geobox GeoBox, times []TimeCoord) *Dataset {
	ds := &Dataset{
		GeoBox: geobox,
		Times:  times,
		Vars:   map[string]*Variable{},
		Attrs:  map[string]interface{}{},
	}
	ds.ResetCoordsFromTransform()
	return ds
}

// ResetCoordsFromTransform recomputes X/Y from the pixel centres of the
// first row and column.
func (ds *Dataset) ResetCoordsFromTransform() {
	ds.X = make([]float64, ds.GeoBox.Width)
	ds.Y = make([]float64, ds.GeoBox.Height)
	for i := range ds.X {
		ds.X[i], _ = ds.GeoBox.PixelCenter(i, 0)
	}
	for j := range ds.Y {
		_, ds.Y[j] = ds.GeoBox.PixelCenter(0, j)
	}
}

// ResetCoordsToIndex labels X/Y by pixel index.
func (ds *Dataset) ResetCoordsToIndex() {
	ds.X = make([]float64, ds.GeoBox.Width)
	ds.Y = make([]float64, ds.GeoBox.Height)
	for i := range ds.X {
		ds.X[i] = float64(i)
	}
	for j := range ds.Y {
		ds.Y[j] = float64(j)
	}
}

// AddVariable appends a band. The data must match the dataset shape.
func (ds *Dataset) AddVariable(v *Variable) error {
	if len(v.Data) != len(ds.Times) {
		return fmt.Errorf("Variable %s has %d time steps, dataset has %d", v.Name, len(v.Data), len(ds.Times))
	}
	size := ds.GeoBox.Width * ds.GeoBox.Height
	for t := range v.Data {
		if len(v.Data[t]) != size {
			return fmt.Errorf("Variable %s time step %d has %d pixels, expected %d", v.Name, t, len(v.Data[t]), size)
		}
	}
	if v.Attrs == nil {
		v.Attrs = map[string]interface{}{}
	}
	if _, ok := ds.Vars[v.Name]; !ok {
		ds.Order = append(ds.Order, v.Name)
	}
	ds.Vars[v.Name] = v
	return nil
}

func (ds *Dataset) Var(name string) (*Variable, bool) {
	v, ok := ds.Vars[name]
	return v, ok
}

// FirstVar returns the first band in insertion order.
func (ds *Dataset) FirstVar() (*Variable, error) {
	if len(ds.Order) == 0 {
		return nil, fmt.Errorf("Dataset has no data variables")
	}
	return ds.Vars[ds.Order[0]], nil
}

func (ds *Dataset) NumTimes() int {
	return len(ds.Times)
}

// Sizes returns the dimension lengths keyed by dimension name.
func (ds *Dataset) Sizes() map[string]int {
	return map[string]int{
		"time": len(ds.Times),
		"y":    ds.GeoBox.Height,
		"x":    ds.GeoBox.Width,
	}
}

func NewFilledSlice(size int, fill float32) []float32 {
	out := make([]float32, size)
	for i := range out {
		out[i] = fill
	}
	return out
}

func NaNSlice(size int) []float32 {
	return NewFilledSlice(size, float32(math.NaN()))
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Clone deep copies the dataset.
func (ds *Dataset) Clone() *Dataset {
	out := &Dataset{
		GeoBox: ds.GeoBox,
		X:      append([]float64(nil), ds.X...),
		Y:      append([]float64(nil), ds.Y...),
		Times:  append([]TimeCoord(nil), ds.Times...),
		Vars:   make(map[string]*Variable, len(ds.Vars)),
		Order:  append([]string(nil), ds.Order...),
		Attrs:  copyAttrs(ds.Attrs),
	}
	for name, v := range ds.Vars {
		nv := &Variable{Name: v.Name, Attrs: copyAttrs(v.Attrs)}
		if v.NoData != nil {
			nv.NoData = Float64Ptr(*v.NoData)
		}
		nv.Data = make([][]float32, len(v.Data))
		for t := range v.Data {
			nv.Data[t] = append([]float32(nil), v.Data[t]...)
		}
		out.Vars[name] = nv
	}
	return out
}

// Isel selects the half-open pixel window [y0, y1) x [x0, x1). The
// transform origin moves to the window's upper left corner, including
// the rotation terms.
func (ds *Dataset) Isel(y0, y1, x0, x1 int) (*Dataset, error) {
	if y0 < 0 || x0 < 0 || y1 > ds.GeoBox.Height || x1 > ds.GeoBox.Width || y0 > y1 || x0 > x1 {
		return nil, fmt.Errorf("Window y[%d:%d] x[%d:%d] outside grid of shape (%d, %d)", y0, y1, x0, x1, ds.GeoBox.Height, ds.GeoBox.Width)
	}
	t := ds.GeoBox.Transform
	newWidth := x1 - x0
	newHeight := y1 - y0
	out := &Dataset{
		GeoBox: GeoBox{
			Width:  newWidth,
			Height: newHeight,
			Transform: Affine{
				A: t.A, B: t.B, C: t.C + float64(x0)*t.A + float64(y0)*t.B,
				D: t.D, E: t.E, F: t.F + float64(x0)*t.D + float64(y0)*t.E,
			},
			CRS: ds.GeoBox.CRS,
		},
		X:     append([]float64(nil), ds.X[x0:x1]...),
		Y:     append([]float64(nil), ds.Y[y0:y1]...),
		Times: append([]TimeCoord(nil), ds.Times...),
		Vars:  make(map[string]*Variable, len(ds.Vars)),
		Order: append([]string(nil), ds.Order...),
		Attrs: copyAttrs(ds.Attrs),
	}
	srcWidth := ds.GeoBox.Width
	for name, v := range ds.Vars {
		nv := &Variable{Name: v.Name, NoData: v.NoData, Attrs: copyAttrs(v.Attrs), Data: make([][]float32, len(v.Data))}
		for ti, src := range v.Data {
			dst := make([]float32, newWidth*newHeight)
			for r := 0; r < newHeight; r++ {
				copy(dst[r*newWidth:(r+1)*newWidth], src[(y0+r)*srcWidth+x0:(y0+r)*srcWidth+x1])
			}
			nv.Data[ti] = dst
		}
		out.Vars[name] = nv
	}
	return out, nil
}

// SortTimes reorders the time dimension of every band using a stable
// sort over the time coordinates.
func (ds *Dataset) SortTimes(less func(a, b TimeCoord) bool) {
	idx := make([]int, len(ds.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return less(ds.Times[idx[i]], ds.Times[idx[j]]) })
	ds.SelectTimes(idx)
}

// SelectTimes keeps the given time indices, in order.
func (ds *Dataset) SelectTimes(idx []int) {
	times := make([]TimeCoord, len(idx))
	for i, k := range idx {
		times[i] = ds.Times[k]
	}
	ds.Times = times
	for _, v := range ds.Vars {
		data := make([][]float32, len(idx))
		for i, k := range idx {
			data[i] = v.Data[k]
		}
		v.Data = data
	}
}

func IsNaN32(v float32) bool {
	return v != v
}
