package extractor

import "time"

type RasterInfo struct {
	FileName     string     `json:"filename"`
	Driver       string     `json:"file_type"`
	DataType     string     `json:"array_type"`
	RasterCount  int        `json:"raster_count"`
	XSize        int        `json:"x_size"`
	YSize        int        `json:"y_size"`
	GeoTransform [6]float64 `json:"geotransform"`
	EPSG         int        `json:"epsg"`
	NoData       *float64   `json:"nodata,omitempty"`
	TimeStamp    *time.Time `json:"timestamp,omitempty"`
	// Native and EPSG:4326 bounds as west, south, east, north.
	Bounds [4]float64 `json:"bounds"`
	BBox   [4]float64 `json:"bbox"`
}
