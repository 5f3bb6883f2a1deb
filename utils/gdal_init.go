package utils

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
)

var initGdalOnce sync.Once

// InitGdal sets the GDAL defaults for reading cloud optimised assets
// over HTTP and registers every driver. It is safe to call repeatedly.
func InitGdal() {
	initGdalOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("GDAL_HTTP_MAX_RETRY", "10")
		setDefaultEnv("GDAL_HTTP_RETRY_DELAY", "0.5")
		setDefaultEnv("GDAL_HTTP_MERGE_CONSECUTIVE_RANGES", "YES")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "10")
		setDefaultEnv("CPL_VSIL_CURL_ALLOWED_EXTENSIONS", ".tif,.tiff,.TIF,.jp2,.vrt")
		setDefaultEnv("VSI_CACHE", "TRUE")

		exeFilePath, err := os.Executable()
		if err == nil {
			setDefaultEnv("GDAL_DRIVER_PATH", filepath.Dir(exeFilePath))
		}

		godal.RegisterAll()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}
