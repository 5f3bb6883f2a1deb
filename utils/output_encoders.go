package utils

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"strings"

	"github.com/airbusgeo/godal"
)

type Raster interface {
	GetNoData() float64
	Size() (int, int)
	DataType() godal.DataType
	Buffer() interface{}
	Name() string
}

type rasterHeader struct {
	NameSpace     string
	Height, Width int
	NoData        float64
}

func (r *rasterHeader) GetNoData() float64 {
	return r.NoData
}

func (r *rasterHeader) Size() (int, int) {
	return r.Width, r.Height
}

func (r *rasterHeader) Name() string {
	return r.NameSpace
}

type ByteRaster struct {
	rasterHeader
	Data []uint8
}

func (r *ByteRaster) DataType() godal.DataType { return godal.Byte }
func (r *ByteRaster) Buffer() interface{}      { return r.Data }

type Int16Raster struct {
	rasterHeader
	Data []int16
}

func (r *Int16Raster) DataType() godal.DataType { return godal.Int16 }
func (r *Int16Raster) Buffer() interface{}      { return r.Data }

type UInt16Raster struct {
	rasterHeader
	Data []uint16
}

func (r *UInt16Raster) DataType() godal.DataType { return godal.UInt16 }
func (r *UInt16Raster) Buffer() interface{}      { return r.Data }

type Float32Raster struct {
	rasterHeader
	Data []float32
}

func (r *Float32Raster) DataType() godal.DataType { return godal.Float32 }
func (r *Float32Raster) Buffer() interface{}      { return r.Data }

// NewRaster converts one band of one time step to the raster type named
// by dtype. NaN pixels take the nodata value of integer types.
func NewRaster(name string, data []float32, width, height int, dtype string, nodata *float64) (Raster, error) {
	nd := math.NaN()
	if nodata != nil {
		nd = *nodata
	}
	hdr := rasterHeader{NameSpace: name, Width: width, Height: height, NoData: nd}

	switch strings.ToLower(dtype) {
	case "", "float32", "float64":
		return &Float32Raster{rasterHeader: hdr, Data: data}, nil
	case "int16":
		if math.IsNaN(nd) {
			hdr.NoData = math.MinInt16
		}
		out := make([]int16, len(data))
		for i, v := range data {
			if IsNaN32(v) {
				out[i] = int16(hdr.NoData)
			} else {
				out[i] = int16(v)
			}
		}
		return &Int16Raster{rasterHeader: hdr, Data: out}, nil
	case "uint16":
		if math.IsNaN(nd) {
			hdr.NoData = 0
		}
		out := make([]uint16, len(data))
		for i, v := range data {
			if IsNaN32(v) {
				out[i] = uint16(hdr.NoData)
			} else {
				out[i] = uint16(v)
			}
		}
		return &UInt16Raster{rasterHeader: hdr, Data: out}, nil
	case "uint8", "byte":
		if math.IsNaN(nd) {
			hdr.NoData = 0xFF
		}
		out := make([]uint8, len(data))
		for i, v := range data {
			if IsNaN32(v) {
				out[i] = uint8(hdr.NoData)
			} else {
				out[i] = uint8(v)
			}
		}
		return &ByteRaster{rasterHeader: hdr, Data: out}, nil
	default:
		return nil, fmt.Errorf("Unsupported raster data type: %s", dtype)
	}
}

func ValidateRasterSlice(rs []Raster) (int, int, godal.DataType, error) {
	if len(rs) == 0 {
		return 0, 0, godal.Unknown, fmt.Errorf("No rasters to encode")
	}
	width, height := rs[0].Size()
	rasterType := rs[0].DataType()
	for _, r := range rs[1:] {
		if r.DataType() != rasterType {
			return 0, 0, godal.Unknown, fmt.Errorf("Mixed types")
		}
		w, h := r.Size()
		if w != width {
			return 0, 0, godal.Unknown, fmt.Errorf("Mixed width sizes")
		}
		if h != height {
			return 0, 0, godal.Unknown, fmt.Errorf("Mixed height sizes")
		}
	}
	return width, height, rasterType, nil
}

func driverFromFormat(format string) (godal.DriverName, error) {
	switch strings.ToLower(format) {
	case "geotiff", "gtiff":
		return godal.GTiff, nil
	default:
		return "", fmt.Errorf("Unsupported encoding format: %v", format)
	}
}

// EncodeGdalFile writes rs as the bands of a single file on geobox.
func EncodeGdalFile(format, path string, rs []Raster, geobox GeoBox, metadata map[string]string) error {
	InitGdal()
	driver, err := driverFromFormat(format)
	if err != nil {
		return err
	}
	w, h, rType, err := ValidateRasterSlice(rs)
	if err != nil {
		return fmt.Errorf("Error validating raster %v", err)
	}
	if w != geobox.Width || h != geobox.Height {
		return fmt.Errorf("Raster size %dx%d does not match grid %dx%d", w, h, geobox.Width, geobox.Height)
	}
	epsg, err := geobox.EPSG()
	if err != nil {
		return err
	}

	dst, err := godal.Create(driver, path, len(rs), rType, w, h, godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return fmt.Errorf("Error creating raster: %v", err)
	}

	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		dst.Close()
		return fmt.Errorf("Invalid EPSG code %d: %v", epsg, err)
	}
	defer sr.Close()
	if err = dst.SetSpatialRef(sr); err != nil {
		dst.Close()
		return err
	}
	if err = dst.SetGeoTransform(geobox.Transform.ToGDAL()); err != nil {
		dst.Close()
		return err
	}
	for k, v := range metadata {
		if err = dst.SetMetadata(k, v); err != nil {
			dst.Close()
			return err
		}
	}

	bands := dst.Bands()
	for i, r := range rs {
		if err = bands[i].SetNoData(r.GetNoData()); err != nil {
			dst.Close()
			return fmt.Errorf("Error setting nodata of band %d: %v", i, err)
		}
		if err = bands[i].SetDescription(r.Name()); err != nil {
			dst.Close()
			return err
		}
		if err = bands[i].Write(0, 0, r.Buffer(), w, h); err != nil {
			dst.Close()
			return fmt.Errorf("Error writing raster band: %d", i)
		}
	}
	return dst.Close()
}

// EncodeGdal encodes rs in memory through a temporary file.
func EncodeGdal(format string, rs []Raster, geobox GeoBox, metadata map[string]string) ([]byte, error) {
	tempFileHandle, err := ioutil.TempFile("", "raster_")
	if err != nil {
		return []byte{}, fmt.Errorf("failed to create raster temp file: %v", err)
	}
	tempFile := tempFileHandle.Name()
	tempFileHandle.Close()
	defer os.Remove(tempFile)

	if err = EncodeGdalFile(format, tempFile, rs, geobox, metadata); err != nil {
		return []byte{}, err
	}
	out, err := ioutil.ReadFile(tempFile)
	if err != nil {
		return []byte{}, fmt.Errorf("Error reading raster file: %v", tempFile)
	}
	return out, nil
}
