package metrics

import (
	"bytes"
	"encoding/json"
	"net"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"
)

type SearchInfo struct {
	Duration     time.Duration `json:"duration"`
	Collection   string        `json:"collection"`
	Datetime     string        `json:"datetime"`
	Geometry     string        `json:"geometry"`
	GeometryArea float64       `json:"geometry_area"`
	NumItems     int           `json:"num_items"`
}

type ProcessInfo struct {
	Duration   time.Duration `json:"duration"`
	Bands      []string      `json:"bands"`
	Percentile *int          `json:"percentile,omitempty"`
	NumTimes   int           `json:"num_times"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
}

type OutputInfo struct {
	Duration time.Duration `json:"duration"`
	Files    []string      `json:"files"`
}

type MetricsInfo struct {
	ReqID        string        `json:"req_id"`
	ReqTime      string        `json:"req_time"`
	ReqDuration  time.Duration `json:"req_duration"`
	RemoteAddr   string        `json:"remote_addr"`
	RemoteHost   string        `json:"remote_host"`
	RemotePort   string        `json:"remote_port"`
	RequestBytes int           `json:"request_bytes"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Search       *SearchInfo   `json:"search"`
	Process      *ProcessInfo  `json:"process"`
	Output       *OutputInfo   `json:"output"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	start  time.Time
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info: &MetricsInfo{
			ReqTime: now.Format(time.RFC3339),
			Search:  &SearchInfo{},
			Process: &ProcessInfo{},
			Output:  &OutputInfo{},
		},
		logger: logger,
		start:  now,
	}
}

// Finish records the request duration and outcome.
func (m *MetricsCollector) Finish(err error) {
	m.Info.ReqDuration = time.Since(m.start)
	if err != nil {
		m.Info.Status = "error"
		m.Info.Error = err.Error()
	} else {
		m.Info.Status = "ok"
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	i.normaliseGeometry()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	if len(addr) == 0 {
		return
	}
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

// normaliseGeometry fills the area of the search geometry, which is
// always in EPSG:4326.
func (i *MetricsInfo) normaliseGeometry() {
	if i.Search == nil {
		return
	}
	if len(i.Search.Geometry) == 0 {
		i.Search.Geometry = "POLYGON EMPTY"
		return
	}
	if i.Search.GeometryArea > 0 {
		return
	}

	geom, err := wkt.Unmarshal(i.Search.Geometry)
	if err != nil {
		zap.L().Warn("metrics: invalid search geometry", zap.String("wkt", i.Search.Geometry), zap.Error(err))
		return
	}
	switch g := geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
		i.Search.GeometryArea = planar.Area(g)
	}
}
