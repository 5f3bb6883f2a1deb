package processor

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/nci/stacomp/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPaths(t *testing.T) {
	ds := utils.NewDataset(testGeoBox(1, 1), []utils.TimeCoord{{Time: mustTime("2023-06-01T10:00:00Z")}})
	assert.Equal(t, []string{"out/composite.tif"}, OutputPaths(ds, "out/composite.tif"))

	ds.Times = append(ds.Times,
		utils.TimeCoord{Time: mustTime("2023-06-05T10:00:00Z")},
		utils.TimeCoord{Time: mustTime("2023-06-05T11:00:00Z")})
	assert.Equal(t, []string{
		"out/s2_20230601.tif",
		"out/s2_20230605_1.tif",
		"out/s2_20230605_2.tif",
	}, OutputPaths(ds, "out/s2.tif"))
}

func TestEncodeInfo(t *testing.T) {
	out, err := Composite(compositeFixture(t), 50)
	require.NoError(t, err)
	out.Vars["red"].NoData = utils.Float64Ptr(math.NaN())

	b, err := EncodeInfo(out)
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &info))
	assert.Equal(t, "EPSG:4326", info["crs"])
	assert.Equal(t, map[string]interface{}{"time": 1.0, "y": 1.0, "x": 2.0}, info["sizes"])
	assert.Equal(t, []interface{}{0.5, 0.0, 4.0, 0.0, -0.5, 54.0}, info["transform"])

	vars := info["data_vars"].([]interface{})
	require.Len(t, vars, 1)
	assert.Equal(t, "NaN", vars[0].(map[string]interface{})["nodata"])

	times := info["time"].([]interface{})
	require.Len(t, times, 1)
	assert.Equal(t, "2023-01-21T10:00:00Z", times[0].(map[string]interface{})["end_datetime"])

	attrs := info["attrs"].(map[string]interface{})
	assert.Equal(t, "median", attrs[AttrDeterminationMethod])
	assert.Equal(t, "10 days", attrs[AttrAvgInterval])
}

func TestWriteGeoTIFF(t *testing.T) {
	utils.InitGdal()
	ds := utils.NewDataset(testGeoBox(2, 2), []utils.TimeCoord{
		{Time: mustTime("2021-04-22T00:00:00Z")},
	})
	require.NoError(t, ds.AddVariable(&utils.Variable{
		Name:   "data",
		Data:   [][]float32{{1, 2, nan(), 4}},
		NoData: utils.Float64Ptr(-32768),
		Attrs:  map[string]interface{}{"dtype": "int16"},
	}))

	path := filepath.Join(t.TempDir(), "dem.tif")
	paths, err := WriteGeoTIFF(ds, path)
	require.NoError(t, err)
	require.Equal(t, []string{path}, paths)

	out, err := godal.Open(path)
	require.NoError(t, err)
	defer out.Close()

	st := out.Structure()
	assert.Equal(t, 2, st.SizeX)
	assert.Equal(t, 2, st.SizeY)
	assert.Equal(t, 1, st.NBands)
	gt, err := out.GeoTransform()
	require.NoError(t, err)
	assert.Equal(t, [6]float64{4, 0.5, 0, 54, 0, -0.5}, gt)

	band := out.Bands()[0]
	nd, ok := band.NoData()
	require.True(t, ok)
	assert.Equal(t, -32768.0, nd)
	buf := make([]int16, 4)
	require.NoError(t, band.Read(0, 0, buf, 2, 2))
	assert.Equal(t, []int16{1, 2, -32768, 4}, buf)
}
