package processor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/nci/stacomp/utils"
)

// gdalResampling maps resampling names to gdalwarp -r values.
var gdalResampling = map[string]string{
	"nearest":     "near",
	"near":        "near",
	"bilinear":    "bilinear",
	"cubic":       "cubic",
	"cubicspline": "cubicspline",
	"lanczos":     "lanczos",
	"average":     "average",
	"mode":        "mode",
	"min":         "min",
	"max":         "max",
	"med":         "med",
}

// GDALReader warps assets onto the target grid with an in-memory
// gdalwarp. IgnoreWarnings drops GDAL warnings instead of failing the
// read.
type GDALReader struct {
	IgnoreWarnings bool
}

func NewGDALReader(ignoreWarnings bool) *GDALReader {
	utils.InitGdal()
	return &GDALReader{IgnoreWarnings: ignoreWarnings}
}

func (r *GDALReader) errLogger() godal.ErrorHandler {
	return func(ec godal.ErrorCategory, code int, msg string) error {
		if ec < godal.CE_Warning || (ec == godal.CE_Warning && r.IgnoreWarnings) {
			return nil
		}
		return fmt.Errorf("GDAL error %d: %s", code, msg)
	}
}

// vsiPath prefixes remote hrefs with the GDAL curl handler.
func vsiPath(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return "/vsicurl/" + href
	}
	return href
}

func warpSwitches(geobox utils.GeoBox, resampling string, nodata *float64) ([]string, error) {
	r, ok := gdalResampling[strings.ToLower(resampling)]
	if !ok {
		return nil, fmt.Errorf("unsupported resampling method %q", resampling)
	}
	if !geobox.Transform.IsRectilinear() {
		return nil, fmt.Errorf("cannot warp onto a rotated grid")
	}
	b := geobox.Bounds()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switches := []string{
		"-of", "MEM",
		"-t_srs", geobox.CRS,
		"-te", f(b.Min[0]), f(b.Min[1]), f(b.Max[0]), f(b.Max[1]),
		"-ts", strconv.Itoa(geobox.Width), strconv.Itoa(geobox.Height),
		"-r", r,
		"-ot", "Float32",
	}
	dst := "nan"
	if nodata != nil && !math.IsNaN(*nodata) {
		dst = f(*nodata)
		switches = append(switches, "-srcnodata", dst)
	}
	switches = append(switches, "-dstnodata", dst)
	return switches, nil
}

func (r *GDALReader) Read(ctx context.Context, href string, geobox utils.GeoBox, resampling string, nodata *float64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switches, err := warpSwitches(geobox, resampling, nodata)
	if err != nil {
		return nil, err
	}

	src, err := godal.Open(vsiPath(href), godal.RasterOnly(), godal.ErrLogger(r.errLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", href, err)
	}
	defer src.Close()

	warped, err := src.Warp("", switches, godal.ErrLogger(r.errLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to warp %s: %v", href, err)
	}
	defer warped.Close()

	bands := warped.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("%s has no bands", href)
	}
	buf := make([]float32, geobox.Width*geobox.Height)
	if err := bands[0].Read(0, 0, buf, geobox.Width, geobox.Height); err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", href, err)
	}
	return buf, nil
}

// GDALProjector transforms coordinates with OSR. Spatial references use
// the traditional x=lon, y=lat axis order.
type GDALProjector struct{}

func NewGDALProjector() *GDALProjector {
	utils.InitGdal()
	return &GDALProjector{}
}

func (GDALProjector) TransformPoints(srcCRS, dstCRS string, xs, ys []float64) error {
	if srcCRS == dstCRS {
		return nil
	}
	srcCode, err := utils.ParseEPSG(srcCRS)
	if err != nil {
		return err
	}
	dstCode, err := utils.ParseEPSG(dstCRS)
	if err != nil {
		return err
	}
	srcSR, err := godal.NewSpatialRefFromEPSG(srcCode)
	if err != nil {
		return fmt.Errorf("invalid CRS %s: %v", srcCRS, err)
	}
	defer srcSR.Close()
	dstSR, err := godal.NewSpatialRefFromEPSG(dstCode)
	if err != nil {
		return fmt.Errorf("invalid CRS %s: %v", dstCRS, err)
	}
	defer dstSR.Close()

	tr, err := godal.NewTransform(srcSR, dstSR)
	if err != nil {
		return err
	}
	defer tr.Close()

	ok := make([]bool, len(xs))
	err = tr.TransformEx(xs, ys, nil, ok)
	// partial failures are reported through ok
	transformed := 0
	for i := range ok {
		if ok[i] {
			transformed++
		} else {
			xs[i], ys[i] = math.Inf(1), math.Inf(1)
		}
	}
	if err != nil && transformed == 0 {
		return fmt.Errorf("failed to transform points from %s to %s: %v", srcCRS, dstCRS, err)
	}
	return nil
}
