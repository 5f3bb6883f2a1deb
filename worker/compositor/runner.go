package compositor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nci/stacomp/metrics"
	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"go.uber.org/zap"
)

// Pipeline is a configured collection ready to run.
type Pipeline interface {
	Execute(ctx context.Context) (*utils.Dataset, error)
	Items() []*stac.Item
}

// OpenFunc searches for the items of job and returns its pipeline.
type OpenFunc func(ctx context.Context, config *utils.Config, job *Job, logger *zap.Logger) (Pipeline, error)

// OpenPipeline builds a tile collection for the DEM collections and an
// image collection otherwise.
func OpenPipeline(ctx context.Context, config *utils.Config, job *Job, logger *zap.Logger) (Pipeline, error) {
	switch job.Collection {
	case utils.CopernicusDEMCollection, utils.DeltaDTMCollection:
		var t *processor.TileCollection
		var err error
		if job.Collection == utils.CopernicusDEMCollection {
			t, err = processor.OpenCopernicusDEMCollection(ctx, config, logger)
		} else {
			t, err = processor.OpenDeltaDTMCollection(config, logger)
		}
		if err != nil {
			return nil, err
		}
		if _, err = job.ApplyTiles(ctx, t); err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	default:
		c, err := processor.OpenImageCollection(ctx, config, job.Collection, logger)
		if err != nil {
			return nil, err
		}
		cfg, _ := config.Collection(job.Collection)
		return job.Apply(ctx, c, cfg)
	}
}

// Runner executes jobs and writes their outputs under OutputDir.
type Runner struct {
	Configs   *utils.ConfigStore
	OutputDir string
	Open      OpenFunc
	Metrics   metrics.Logger

	logger *zap.Logger
}

func NewRunner(configs *utils.ConfigStore, outputDir string, metricsLogger metrics.Logger, logger *zap.Logger) *Runner {
	return &Runner{
		Configs:   configs,
		OutputDir: outputDir,
		Open:      OpenPipeline,
		Metrics:   metricsLogger,
		logger:    utils.OrNop(logger),
	}
}

func (r *Runner) config(namespace string) (*utils.Config, error) {
	if r.Configs == nil {
		return utils.DefaultConfig(), nil
	}
	config, ok := r.Configs.Get(namespace)
	if !ok {
		return nil, fmt.Errorf("Unknown namespace: %q", namespace)
	}
	return config, nil
}

// Run executes job. remoteAddr and requestBytes are only recorded in
// the metrics.
func (r *Runner) Run(ctx context.Context, job *Job, remoteAddr string, requestBytes int) (res *Result, err error) {
	m := metrics.NewMetricsCollector(r.Metrics)
	m.Info.RemoteAddr = remoteAddr
	m.Info.RequestBytes = requestBytes
	m.Info.Search.Collection = job.Collection
	m.Info.Search.Datetime = job.Datetime
	defer func() {
		m.Finish(err)
		m.Log()
	}()

	err = job.Validate()
	m.Info.ReqID = job.ID
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(zap.String("job", job.ID), zap.String("collection", job.Collection))
	if roi, e := job.ROI(); e == nil {
		m.Info.Search.Geometry = roi.WKT()
	}
	config, err := r.config(job.Namespace)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	p, err := r.Open(ctx, config, job, logger)
	if err != nil {
		return nil, err
	}
	if cl, ok := p.(io.Closer); ok {
		defer cl.Close()
	}
	m.Info.Search.Duration = time.Since(t0)
	m.Info.Search.NumItems = len(p.Items())

	t1 := time.Now()
	ds, err := p.Execute(ctx)
	if err != nil {
		return nil, err
	}
	m.Info.Process.Duration = time.Since(t1)
	m.Info.Process.Bands = ds.Order
	m.Info.Process.Percentile = job.Percentile
	m.Info.Process.NumTimes = ds.NumTimes()
	m.Info.Process.Width, m.Info.Process.Height = ds.GeoBox.Width, ds.GeoBox.Height

	t2 := time.Now()
	path := filepath.Join(r.OutputDir, job.OutputName())
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	files, err := processor.WriteGeoTIFF(ds, path)
	if err != nil {
		return nil, err
	}
	m.Info.Output.Duration = time.Since(t2)
	m.Info.Output.Files = files

	logger.Info("job finished", zap.Strings("files", files), zap.Duration("duration", time.Since(t0)))
	return &Result{
		ID:    job.ID,
		Files: files,
		Items: len(p.Items()),
		Info:  processor.Info(ds),
	}, nil
}
