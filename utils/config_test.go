package utils

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
service_config:
  catalog_url: http://localhost:8080/stac
  memcache_address: 127.0.0.1:11211
  worker_nodes: ["10.0.0.1:6000", "10.0.0.2:6000"]
collections:
  - name: sentinel-2-l2a
    signer: planetary-computer
    ignore_warnings: true
    assets:
      "*": {nodata: nan}
      SCL: {data_type: uint8, nodata: "0"}
    resampling:
      SCL: nearest
      "*": cubic
    mask:
      id: SCL
      classes: [3, 8, 9, 10]
spectral_indices:
  - name: NDWI
    expression: (green - nir) / (green + nir)
    description: Normalized Difference Water Index
`

func writeConfig(t *testing.T, dir, name, content string) string {
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", testConfigYAML)

	config := &Config{}
	require.NoError(t, config.LoadConfigFile(path))

	assert.Equal(t, "http://localhost:8080/stac", config.ServiceConfig.CatalogURL)
	assert.Equal(t, DefaultListenAddress, config.ServiceConfig.ListenAddress)
	assert.Equal(t, DefaultRecvMsgSize, config.ServiceConfig.MaxGrpcRecvMsgSize)
	assert.Len(t, config.ServiceConfig.WorkerNodes, 2)

	s2, ok := config.Collection(Sentinel2Collection)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080/stac", s2.CatalogURL)
	nd, err := s2.AssetNoData("B04")
	require.NoError(t, err)
	require.NotNil(t, nd)
	assert.True(t, math.IsNaN(*nd))
	nd, err = s2.AssetNoData("SCL")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *nd)
	assert.Equal(t, "uint8", s2.AssetDataType("SCL"))
	assert.Equal(t, "nearest", s2.ResamplingFor("SCL"))
	assert.Equal(t, "cubic", s2.ResamplingFor("B04"))
	require.NotNil(t, s2.Mask)
	assert.Equal(t, []float64{3, 8, 9, 10}, s2.Mask.Classes)

	// presets not overridden are kept
	dem, ok := config.Collection(CopernicusDEMCollection)
	require.True(t, ok)
	assert.Equal(t, "int16", dem.AssetDataType("data"))

	idx, ok := config.SpectralIndex("ndwi")
	require.True(t, ok)
	assert.Equal(t, "(green - nir) / (green + nir)", idx.Expression)
}

func TestLoadConfigFileJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", `{"service_config": {"listen_address": "127.0.0.1:7000"}}`)
	config := &Config{}
	require.NoError(t, config.LoadConfigFile(path))
	assert.Equal(t, "127.0.0.1:7000", config.ServiceConfig.ListenAddress)
	assert.Len(t, config.Collections, 3)
}

func TestLoadConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad nodata": `
collections:
  - name: x
    assets:
      "*": {nodata: abc}
`,
		"duplicate index": `
spectral_indices:
  - {name: NDVI, expression: "(nir - red) / (nir + red)"}
  - {name: ndvi, expression: "nir"}
`,
		"empty mask": `
collections:
  - name: x
    mask: {id: SCL}
`,
		"unnamed collection": `
collections:
  - catalog_url: http://localhost
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, filepath.Join(dir, name), "config.yaml", content)
			assert.Error(t, (&Config{}).LoadConfigFile(path))
		})
	}

	assert.Error(t, (&Config{}).LoadConfigFile(filepath.Join(dir, "missing.yaml")))
}

func TestLoadAllConfigFiles(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", testConfigYAML)
	writeConfig(t, filepath.Join(root, "coastal", "dem"), "config.json", `{}`)
	writeConfig(t, filepath.Join(root, "ignored"), "notes.yaml", `x: 1`)

	configs, err := LoadAllConfigFiles(root, nil)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Contains(t, configs, "")
	assert.Contains(t, configs, filepath.Join("coastal", "dem"))

	store := NewConfigStore(configs)
	c, ok := store.Get("")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080/stac", c.ServiceConfig.CatalogURL)

	_, err = LoadAllConfigFiles(filepath.Join(root, "ignored"), nil)
	assert.Error(t, err)
}
