package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var EtcDir = "."

const DefaultCatalogURL = "https://planetarycomputer.microsoft.com/api/stac/v1"
const DefaultRecvMsgSize = 10 * 1024 * 1024
const DefaultListenAddress = "0.0.0.0:6000"
const DefaultMaxConcurrentRequests = 4

// Signers understood by CollectionConfig.Signer.
const (
	SignerNone               = ""
	SignerPlanetaryComputer  = "planetary-computer"
	PlanetaryComputerSASURL  = "https://planetarycomputer.microsoft.com/api/sas/v1/token"
	CoclicoCatalogURL        = "https://coclico.blob.core.windows.net/stac/v1/catalog.json"
	Sentinel2Collection      = "sentinel-2-l2a"
	CopernicusDEMCollection  = "cop-dem-glo-30"
	DeltaDTMCollection       = "deltares-delta-dtm"
	DefaultGroupBy           = "solar_day"
	DefaultResamplingMethod  = "nearest"
	DefaultCompositeMaxItems = 10
)

type ServiceConfig struct {
	CatalogURL            string   `json:"catalog_url" yaml:"catalog_url"`
	MemcacheAddress       string   `json:"memcache_address" yaml:"memcache_address"`
	IndexDSN              string   `json:"index_dsn" yaml:"index_dsn"`
	IndexAddress          string   `json:"index_address" yaml:"index_address"`
	WorkerNodes           []string `json:"worker_nodes" yaml:"worker_nodes"`
	ListenAddress         string   `json:"listen_address" yaml:"listen_address"`
	MaxGrpcRecvMsgSize    int      `json:"max_grpc_recv_msg_size" yaml:"max_grpc_recv_msg_size"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	MetricsLogDir         string   `json:"metrics_log_dir" yaml:"metrics_log_dir"`
	OutputDir             string   `json:"output_dir" yaml:"output_dir"`
}

// Mask describes a quality band used to discard pixels. Value is a
// binary string whose set bits flag bad pixels. BitTests holds pairs of
// binary (filter, value) strings; a pixel is masked when
// pixel&filter == value for any pair. Classes lists exact class values
// to mask, as in scene classification layers.
type Mask struct {
	ID        string    `json:"id" yaml:"id"`
	Value     string    `json:"value" yaml:"value"`
	BitTests  []string  `json:"bit_tests" yaml:"bit_tests"`
	Classes   []float64 `json:"classes" yaml:"classes"`
	Inclusive bool      `json:"inclusive" yaml:"inclusive"`
}

// AssetConfig overrides the data type and nodata value of an asset.
// NoData accepts a number or "nan".
type AssetConfig struct {
	DataType string `json:"data_type" yaml:"data_type"`
	NoData   string `json:"nodata" yaml:"nodata"`
}

// CollectionConfig holds per-collection loading defaults. The "*" asset
// key applies to every asset without its own entry.
type CollectionConfig struct {
	Name           string                 `json:"name" yaml:"name"`
	CatalogURL     string                 `json:"catalog_url" yaml:"catalog_url"`
	Signer         string                 `json:"signer" yaml:"signer"`
	Assets         map[string]AssetConfig `json:"assets" yaml:"assets"`
	IgnoreWarnings bool                   `json:"ignore_warnings" yaml:"ignore_warnings"`
	DefaultBands   []string               `json:"default_bands" yaml:"default_bands"`
	Resampling     map[string]string      `json:"resampling" yaml:"resampling"`
	Mask           *Mask                  `json:"mask" yaml:"mask"`
}

// SpectralIndexConfig names a band-math expression, e.g.
// "(green - nir) / (green + nir)".
type SpectralIndexConfig struct {
	Name        string `json:"name" yaml:"name"`
	Expression  string `json:"expression" yaml:"expression"`
	Description string `json:"description" yaml:"description"`
}

// Config is the configuration of the compositing service: where the
// catalogs live, how collections are loaded and which spectral indices
// can be computed.
type Config struct {
	ServiceConfig   ServiceConfig         `json:"service_config" yaml:"service_config"`
	Collections     []CollectionConfig    `json:"collections" yaml:"collections"`
	SpectralIndices []SpectralIndexConfig `json:"spectral_indices" yaml:"spectral_indices"`
}

func parseNoData(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.EqualFold(s, "nan") {
		return Float64Ptr(math.NaN()), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("Invalid nodata value %q: %v", s, err)
	}
	return &v, nil
}

func (c *CollectionConfig) asset(band string) (AssetConfig, bool) {
	if a, ok := c.Assets[band]; ok {
		return a, true
	}
	a, ok := c.Assets["*"]
	return a, ok
}

// AssetNoData returns the configured nodata of band, or nil.
func (c *CollectionConfig) AssetNoData(band string) (*float64, error) {
	a, ok := c.asset(band)
	if !ok {
		return nil, nil
	}
	return parseNoData(a.NoData)
}

func (c *CollectionConfig) AssetDataType(band string) string {
	a, _ := c.asset(band)
	return a.DataType
}

// ResamplingFor returns the resampling configured for band, falling back
// to "*" and then nearest.
func (c *CollectionConfig) ResamplingFor(band string) string {
	if r, ok := c.Resampling[band]; ok {
		return r
	}
	if r, ok := c.Resampling["*"]; ok {
		return r
	}
	return DefaultResamplingMethod
}

func (config *Config) Collection(name string) (*CollectionConfig, bool) {
	for i := range config.Collections {
		if config.Collections[i].Name == name {
			return &config.Collections[i], true
		}
	}
	return nil, false
}

func (config *Config) SpectralIndex(name string) (*SpectralIndexConfig, bool) {
	for i := range config.SpectralIndices {
		if strings.EqualFold(config.SpectralIndices[i].Name, name) {
			return &config.SpectralIndices[i], true
		}
	}
	return nil, false
}

// Sentinel2Config loads every asset as float with NaN nodata.
func Sentinel2Config() CollectionConfig {
	return CollectionConfig{
		Name:       Sentinel2Collection,
		CatalogURL: DefaultCatalogURL,
		Signer:     SignerPlanetaryComputer,
		Assets: map[string]AssetConfig{
			"*":      {NoData: "nan"},
			"SCL":    {NoData: "nan"},
			"visual": {NoData: "nan"},
		},
		IgnoreWarnings: true,
	}
}

func CopernicusDEMConfig() CollectionConfig {
	return CollectionConfig{
		Name:       CopernicusDEMCollection,
		CatalogURL: DefaultCatalogURL,
		Signer:     SignerPlanetaryComputer,
		Assets: map[string]AssetConfig{
			"*": {DataType: "int16", NoData: "-32768"},
		},
		IgnoreWarnings: true,
		DefaultBands:   []string{"data"},
	}
}

func DeltaDTMConfig() CollectionConfig {
	return CollectionConfig{
		Name:       DeltaDTMCollection,
		CatalogURL: CoclicoCatalogURL,
		Assets: map[string]AssetConfig{
			"*": {DataType: "float32", NoData: "-9999"},
		},
		DefaultBands: []string{"data"},
	}
}

// DefaultConfig returns the built-in collection presets and no indices.
func DefaultConfig() *Config {
	return &Config{
		ServiceConfig: ServiceConfig{
			CatalogURL:            DefaultCatalogURL,
			ListenAddress:         DefaultListenAddress,
			MaxGrpcRecvMsgSize:    DefaultRecvMsgSize,
			MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		},
		Collections: []CollectionConfig{Sentinel2Config(), CopernicusDEMConfig(), DeltaDTMConfig()},
	}
}

// LoadConfigFile unmarshals a YAML or JSON document, depending on the
// file extension, on top of the built-in defaults.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = *DefaultConfig()
	presets := config.Collections
	config.Collections = nil

	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".json":
		err = json.Unmarshal(cfg, config)
	default:
		err = yaml.Unmarshal(cfg, config)
	}
	if err != nil {
		return fmt.Errorf("Error parsing config document: %s. Error: %v", configFile, err)
	}

	for _, p := range presets {
		if _, found := config.Collection(p.Name); !found {
			config.Collections = append(config.Collections, p)
		}
	}
	return config.validate()
}

func (config *Config) validate() error {
	if config.ServiceConfig.MaxGrpcRecvMsgSize <= 0 {
		config.ServiceConfig.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}
	if config.ServiceConfig.MaxConcurrentRequests <= 0 {
		config.ServiceConfig.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if len(config.ServiceConfig.ListenAddress) == 0 {
		config.ServiceConfig.ListenAddress = DefaultListenAddress
	}
	if len(config.ServiceConfig.CatalogURL) == 0 {
		config.ServiceConfig.CatalogURL = DefaultCatalogURL
	}

	for i, coll := range config.Collections {
		if len(strings.TrimSpace(coll.Name)) == 0 {
			return fmt.Errorf("Collection %d has no name", i)
		}
		if len(coll.CatalogURL) == 0 {
			config.Collections[i].CatalogURL = config.ServiceConfig.CatalogURL
		}
		for band, a := range coll.Assets {
			if _, err := parseNoData(a.NoData); err != nil {
				return fmt.Errorf("Collection %s asset %s: %v", coll.Name, band, err)
			}
		}
		if coll.Mask != nil && len(coll.Mask.Value) == 0 && len(coll.Mask.BitTests) == 0 && len(coll.Mask.Classes) == 0 {
			return fmt.Errorf("Collection %s mask must specify value, bit_tests or classes", coll.Name)
		}
	}

	seen := map[string]bool{}
	for _, idx := range config.SpectralIndices {
		key := strings.ToUpper(idx.Name)
		if seen[key] {
			return fmt.Errorf("Spectral index %s defined twice", idx.Name)
		}
		if len(strings.TrimSpace(idx.Expression)) == 0 {
			return fmt.Errorf("Spectral index %s has an empty expression", idx.Name)
		}
		seen[key] = true
	}
	return nil
}

func isConfigFile(name string) bool {
	return name == "config.yaml" || name == "config.yml" || name == "config.json"
}

// LoadAllConfigFiles loads every config file under rootDir keyed by its
// directory relative to rootDir.
func LoadAllConfigFiles(rootDir string, logger *zap.Logger) (map[string]*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && isConfigFile(info.Name()) {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			logger.Info("Loading config file", zap.String("path", path), zap.String("namespace", relPath))

			config := &Config{}
			e := config.LoadConfigFile(path)
			if e != nil {
				return e
			}

			if relPath == "." {
				relPath = ""
			}
			configMap[relPath] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// ConfigStore is a reloadable set of configs.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewConfigStore(configs map[string]*Config) *ConfigStore {
	return &ConfigStore{configs: configs}
}

func (s *ConfigStore) Get(namespace string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[namespace]
	return c, ok
}

func (s *ConfigStore) Replace(configs map[string]*Config) {
	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
}

// WatchConfig reloads the store from EtcDir on SIGHUP.
func WatchConfig(logger *zap.Logger, store *ConfigStore) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(EtcDir, logger)
			if err != nil {
				logger.Error("Error in loading config files", zap.Error(err))
				continue
			}
			store.Replace(confMap)
		}
	}()
}
