package extractor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
)

var dateRe = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)[0-9]{2})-?([01][0-9])-?([0-3][0-9])(?:[^0-9]|$)`)

// parseTimeStamp finds a YYYYMMDD or YYYY-MM-DD date in a file name.
func parseTimeStamp(fileName string) *time.Time {
	m := dateRe.FindStringSubmatch(filepath.Base(fileName))
	if m == nil {
		return nil
	}
	t, err := time.ParseInLocation("20060102", m[1]+m[2]+m[3], time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// ExtractRasterInfo reads the grid, CRS and nodata of a raster file.
func ExtractRasterInfo(path string) (*RasterInfo, error) {
	utils.InitGdal()
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("GDAL could not open dataset %s: %v", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands == 0 {
		return nil, fmt.Errorf("Dataset %s has no bands", path)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("Dataset %s has no geotransform: %v", path, err)
	}

	projWKT := ds.Projection()
	if len(projWKT) == 0 {
		return nil, fmt.Errorf("Dataset %s has no spatial reference", path)
	}
	sr, err := godal.NewSpatialRefFromWKT(projWKT)
	if err != nil {
		return nil, fmt.Errorf("Dataset %s has an invalid spatial reference: %v", path, err)
	}
	defer sr.Close()
	code, err := strconv.Atoi(sr.AuthorityCode(""))
	if err != nil {
		return nil, fmt.Errorf("Dataset %s has no EPSG code", path)
	}

	band := ds.Bands()[0]
	info := &RasterInfo{
		FileName:     path,
		Driver:       ds.Driver().ShortName(),
		DataType:     band.Structure().DataType.String(),
		RasterCount:  st.NBands,
		XSize:        st.SizeX,
		YSize:        st.SizeY,
		GeoTransform: gt,
		EPSG:         code,
		TimeStamp:    parseTimeStamp(path),
	}
	if nd, ok := band.NoData(); ok {
		info.NoData = &nd
	}

	crs := utils.EPSGString(code)
	gb := utils.GeoBox{Width: st.SizeX, Height: st.SizeY, Transform: utils.AffineFromGDAL(gt), CRS: crs}
	native := gb.Bounds()
	info.Bounds = boundArray(native)

	bbox, err := utils.TransformBounds(processor.NewGDALProjector(), native, crs, utils.EPSGString(utils.WGS84EPSG))
	if err != nil {
		return nil, fmt.Errorf("Failed to compute the EPSG:4326 bounds of %s: %v", path, err)
	}
	info.BBox = boundArray(bbox)
	return info, nil
}

func boundArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
