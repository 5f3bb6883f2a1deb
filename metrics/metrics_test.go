package metrics

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordLogger struct {
	infos []*MetricsInfo
}

func (l *recordLogger) Log(info *MetricsInfo) {
	l.infos = append(l.infos, info)
}

func TestMetricsInfoToJSON(t *testing.T) {
	rec := &recordLogger{}
	m := NewMetricsCollector(rec)
	m.Info.RemoteAddr = "10.1.2.3:5555"
	m.Info.Search.Geometry = "POLYGON((4 52,6 52,6 54,4 54,4 52))"
	m.Info.Search.NumItems = 3
	m.Finish(errors.New("no items"))
	m.Log()
	require.Len(t, rec.infos, 1)

	s, err := m.Info.ToJSON()
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	assert.Equal(t, "10.1.2.3", out["remote_host"])
	assert.Equal(t, "5555", out["remote_port"])
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "no items", out["error"])

	search := out["search"].(map[string]interface{})
	assert.InDelta(t, 4.0, math.Abs(search["geometry_area"].(float64)), 1e-9)
	assert.Equal(t, 3.0, search["num_items"])
}

func TestMetricsEmptyGeometry(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.Finish(nil)
	m.Log()
	s, err := m.Info.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, s, `"geometry":"POLYGON EMPTY"`)
	assert.Contains(t, s, `"status":"ok"`)
	assert.NotContains(t, s, `"error"`)
}

func TestFileLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLogger(dir, 1, 2, true, nil)
	for i := 0; i < 8; i++ {
		m := NewMetricsCollector(l)
		m.Info.ReqID = "req"
		m.Finish(nil)
		m.Log()
	}
	l.Close()

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	var total int
	for _, f := range files {
		assert.True(t, strings.HasPrefix(f.Name(), "log"), f.Name())
		// every file holds exactly one document as the size limit is a byte
		b, err := ioutil.ReadFile(filepath.Join(dir, f.Name()))
		require.NoError(t, err)
		total += strings.Count(string(b), "\n")
		assert.LessOrEqual(t, strings.Count(string(b), "\n"), 1)
	}
	assert.Greater(t, total, 0)
	// at most log<i> plus MaxLogFiles rotated files per writer
	assert.LessOrEqual(t, len(files), defaultLogWriters*3)

	_, err = os.Stat(filepath.Join(dir, "log0.0"))
	_, err1 := os.Stat(filepath.Join(dir, "log1.0"))
	assert.True(t, err == nil || err1 == nil)
}
