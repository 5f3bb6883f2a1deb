package processor

import (
	"fmt"
	"math"
	"strconv"

	"github.com/nci/stacomp/utils"
)

var nan32 = float32(math.NaN())

// ApplyMask sets masked pixels of every band to NaN. mask holds one
// slice per time step.
func ApplyMask(ds *utils.Dataset, mask [][]bool) error {
	if len(mask) != ds.NumTimes() {
		return fmt.Errorf("mask has %d time steps, dataset has %d", len(mask), ds.NumTimes())
	}
	for _, name := range ds.Order {
		v := ds.Vars[name]
		for t, data := range v.Data {
			for i := range data {
				if mask[t][i] {
					data[i] = nan32
				}
			}
		}
	}
	return nil
}

// GeometryMask flags pixels whose centre falls outside roi. The roi is
// reprojected to the dataset CRS first.
func GeometryMask(ds *utils.Dataset, roi *utils.ROI, p utils.Projector) ([]bool, error) {
	crs := ds.GeoBox.CRS
	if crs == "" {
		return nil, fmt.Errorf("dataset must have a CRS to apply geometry mask")
	}
	if roi.CRS != crs {
		if p == nil {
			return nil, fmt.Errorf("cannot reproject mask geometry from %s to %s without a projector", roi.CRS, crs)
		}
		var err error
		if roi, err = roi.ToCRS(p, crs); err != nil {
			return nil, err
		}
	}

	width, height := ds.GeoBox.Width, ds.GeoBox.Height
	bounds := roi.Bounds()
	out := make([]bool, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := ds.GeoBox.PixelCenter(col, row)
			if x < bounds.Min[0] || x > bounds.Max[0] || y < bounds.Min[1] || y > bounds.Max[1] {
				out[row*width+col] = true
				continue
			}
			out[row*width+col] = !roi.Contains(x, y)
		}
	}
	return out, nil
}

// ApplyGeometryMask sets every pixel outside roi to NaN.
func ApplyGeometryMask(ds *utils.Dataset, roi *utils.ROI, p utils.Projector) error {
	m, err := GeometryMask(ds, roi, p)
	if err != nil {
		return err
	}
	mask := make([][]bool, ds.NumTimes())
	for t := range mask {
		mask[t] = m
	}
	return ApplyMask(ds, mask)
}

// ApplyNoDataMask replaces each band's nodata value with NaN. Bands
// without a numeric nodata are left untouched.
func ApplyNoDataMask(ds *utils.Dataset) {
	for _, name := range ds.Order {
		v := ds.Vars[name]
		if v.NoData == nil || math.IsNaN(*v.NoData) {
			continue
		}
		nd := float32(*v.NoData)
		for _, data := range v.Data {
			for i := range data {
				if data[i] == nd {
					data[i] = nan32
				}
			}
		}
	}
}

// ApplyValueMask replaces every occurrence of values in any band with NaN.
func ApplyValueMask(ds *utils.Dataset, values []float64) {
	lookup := make(map[float32]struct{}, len(values))
	for _, v := range values {
		lookup[float32(v)] = struct{}{}
	}
	for _, name := range ds.Order {
		for _, data := range ds.Vars[name].Data {
			for i, val := range data {
				if _, ok := lookup[val]; ok {
					data[i] = nan32
				}
			}
		}
	}
}

func parseBits(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 2, 32)
	if err != nil {
		return 0, fmt.Errorf("Invalid binary mask string %q: %v", s, err)
	}
	return v, nil
}

// ComputeMask evaluates a quality mask over the values of a mask band.
// NaN pixels are never flagged.
func ComputeMask(mask *utils.Mask, data []float32) (out []bool, err error) {
	if len(mask.Value) == 0 && len(mask.Classes) == 0 {
		if len(mask.BitTests) == 0 {
			err = fmt.Errorf("Please specify either mask.Value, mask.BitTests or mask.Classes")
			return
		} else if len(mask.BitTests)%2 != 0 {
			err = fmt.Errorf("The entries in mask.BitTests must be in pairs")
			return
		}
	}

	out = make([]bool, len(data))
	switch {
	case len(mask.Classes) > 0:
		classes := make(map[int64]struct{}, len(mask.Classes))
		for _, c := range mask.Classes {
			classes[int64(c)] = struct{}{}
		}
		for i, val := range data {
			if utils.IsNaN32(val) {
				continue
			}
			if _, ok := classes[int64(val)]; ok {
				out[i] = true
			}
		}
	case len(mask.Value) > 0:
		maskValue, e := parseBits(mask.Value)
		if e != nil {
			return nil, e
		}
		for i, val := range data {
			if utils.IsNaN32(val) {
				continue
			}
			if (int64(val) & maskValue) > 0 {
				out[i] = true
			}
		}
	default:
		tests := make([]int64, len(mask.BitTests))
		for j, s := range mask.BitTests {
			if tests[j], err = parseBits(s); err != nil {
				return nil, err
			}
		}
		for i, val := range data {
			if utils.IsNaN32(val) {
				continue
			}
			for j := 0; j < len(tests); j += 2 {
				if (int64(val) & tests[j]) == tests[j+1] {
					out[i] = true
					break
				}
			}
		}
	}
	return
}

// ApplyQualityMask masks every band with the quality band named by
// mask.ID. The quality band is dropped unless the mask is inclusive.
func ApplyQualityMask(ds *utils.Dataset, mask *utils.Mask) error {
	qa, ok := ds.Var(mask.ID)
	if !ok {
		return fmt.Errorf("mask band %s is not loaded", mask.ID)
	}
	masks := make([][]bool, len(qa.Data))
	for t, data := range qa.Data {
		m, err := ComputeMask(mask, data)
		if err != nil {
			return err
		}
		masks[t] = m
	}

	for _, name := range ds.Order {
		if name == mask.ID {
			continue
		}
		for t, data := range ds.Vars[name].Data {
			for i := range data {
				if masks[t][i] {
					data[i] = nan32
				}
			}
		}
	}

	if !mask.Inclusive {
		delete(ds.Vars, mask.ID)
		order := ds.Order[:0]
		for _, name := range ds.Order {
			if name != mask.ID {
				order = append(order, name)
			}
		}
		ds.Order = order
	}
	return nil
}
