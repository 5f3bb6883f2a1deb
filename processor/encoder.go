package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/nci/stacomp/utils"
)

const timeStampLayout = "20060102"

// OutputPaths returns the file written for each time step of ds. A
// single time step is written to path itself, otherwise the date, and
// the step index when dates repeat, is appended before the extension.
func OutputPaths(ds *utils.Dataset, path string) []string {
	if ds.NumTimes() <= 1 {
		return []string{path}
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	seen := map[string]int{}
	for _, tc := range ds.Times {
		seen[tc.Time.UTC().Format(timeStampLayout)]++
	}
	out := make([]string, ds.NumTimes())
	for i, tc := range ds.Times {
		stamp := tc.Time.UTC().Format(timeStampLayout)
		if seen[stamp] > 1 {
			stamp = fmt.Sprintf("%s_%d", stamp, i)
		}
		out[i] = fmt.Sprintf("%s_%s%s", base, stamp, ext)
	}
	return out
}

// WriteGeoTIFF writes one GeoTIFF per time step with the bands in
// dataset order. The data type of the first band is used for all bands.
func WriteGeoTIFF(ds *utils.Dataset, path string) ([]string, error) {
	if len(ds.Order) == 0 {
		return nil, fmt.Errorf("dataset has no bands to write")
	}
	dtype := "float32"
	if first, _ := ds.FirstVar(); first != nil {
		if dt, ok := first.Attrs["dtype"].(string); ok {
			dtype = dt
		}
	}
	paths := OutputPaths(ds, path)
	for t, tc := range ds.Times {
		rasters := make([]utils.Raster, 0, len(ds.Order))
		for _, name := range ds.Order {
			v := ds.Vars[name]
			r, err := utils.NewRaster(name, v.Data[t], ds.GeoBox.Width, ds.GeoBox.Height, dtype, v.NoData)
			if err != nil {
				return nil, err
			}
			rasters = append(rasters, r)
		}
		if err := utils.EncodeGdalFile("geotiff", paths[t], rasters, ds.GeoBox, tiffMetadata(ds, tc)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", paths[t], err)
		}
	}
	return paths, nil
}

func tiffMetadata(ds *utils.Dataset, tc utils.TimeCoord) map[string]string {
	md := map[string]string{"datetime": tc.Time.UTC().Format(time.RFC3339)}
	if !tc.StartDatetime.IsZero() {
		md["start_datetime"] = tc.StartDatetime.UTC().Format(time.RFC3339)
		md["end_datetime"] = tc.EndDatetime.UTC().Format(time.RFC3339)
	}
	if tc.StacID != "" {
		md["stac_id"] = tc.StacID
	}
	for k, v := range ds.Attrs {
		switch val := v.(type) {
		case string:
			md[k] = val
		case []string:
			md[k] = strings.Join(val, ",")
		default:
			md[k] = fmt.Sprint(val)
		}
	}
	return md
}

type timeInfo struct {
	Time          time.Time  `json:"time"`
	StacID        string     `json:"stac_id,omitempty"`
	MGRSTile      string     `json:"mgrs_tile,omitempty"`
	CloudCover    *float64   `json:"eo:cloud_cover,omitempty"`
	RelativeOrbit *int       `json:"sat:relative_orbit,omitempty"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
}

type variableInfo struct {
	Name   string                 `json:"name"`
	NoData interface{}            `json:"nodata"`
	Attrs  map[string]interface{} `json:"attrs,omitempty"`
}

// DatasetInfo is the JSON description of a dataset.
type DatasetInfo struct {
	Sizes     map[string]int         `json:"sizes"`
	CRS       string                 `json:"crs"`
	Transform [6]float64             `json:"transform"`
	Bounds    [4]float64             `json:"bounds"`
	Times     []timeInfo             `json:"time"`
	Variables []variableInfo         `json:"data_vars"`
	Attrs     map[string]interface{} `json:"attrs"`
}

// jsonSafe replaces NaN and infinities, which JSON cannot encode, with
// their string names.
func jsonSafe(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	case float32:
		return jsonSafe(float64(val))
	case *float64:
		if val == nil {
			return nil
		}
		return jsonSafe(*val)
	case []float64:
		out := make([]interface{}, len(val))
		for i, f := range val {
			out[i] = jsonSafe(f)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, x := range val {
			out[k] = jsonSafe(x)
		}
		return out
	default:
		return v
	}
}

// Info describes ds: its sizes, grid, coordinates and attributes.
func Info(ds *utils.Dataset) *DatasetInfo {
	b := ds.GeoBox.Bounds()
	t := ds.GeoBox.Transform
	info := &DatasetInfo{
		Sizes:     ds.Sizes(),
		CRS:       ds.GeoBox.CRS,
		Transform: [6]float64{t.A, t.B, t.C, t.D, t.E, t.F},
		Bounds:    [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		Attrs:     jsonSafe(ds.Attrs).(map[string]interface{}),
	}
	for _, tc := range ds.Times {
		ti := timeInfo{Time: tc.Time.UTC()}
		if tc.HasMetadata {
			cc, orbit := tc.CloudCover, tc.RelativeOrbit
			ti.StacID, ti.MGRSTile = tc.StacID, tc.MGRSTile
			ti.CloudCover, ti.RelativeOrbit = &cc, &orbit
		}
		if !tc.StartDatetime.IsZero() {
			start, end := tc.StartDatetime.UTC(), tc.EndDatetime.UTC()
			ti.StartDatetime, ti.EndDatetime = &start, &end
		}
		info.Times = append(info.Times, ti)
	}
	for _, name := range ds.Order {
		v := ds.Vars[name]
		info.Variables = append(info.Variables, variableInfo{
			Name:   name,
			NoData: jsonSafe(v.NoData),
			Attrs:  jsonSafe(v.Attrs).(map[string]interface{}),
		})
	}
	return info
}

// EncodeInfo returns Info(ds) as indented JSON.
func EncodeInfo(ds *utils.Dataset) ([]byte, error) {
	return json.MarshalIndent(Info(ds), "", "  ")
}
