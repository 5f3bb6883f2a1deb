package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nci/stacomp/metrics"
	"github.com/nci/stacomp/utils"
	"github.com/nci/stacomp/worker/compositor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var compositeFlags regionFlags

var (
	bands        []string
	indices      []string
	resolution   float64
	dstCRS       string
	resampling   string
	dtype        string
	percentile   int
	maskGeometry bool
	maskValues   []float64
	maskQuality  bool
	output       string
	namespace    string
	remote       bool
)

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "write a percentile composite of the items matching a search",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := compositeFlags.job()
		if err != nil {
			return err
		}
		job.Namespace = namespace
		job.Bands = bands
		job.SpectralIndices = indices
		job.Resolution = resolution
		job.CRS = dstCRS
		job.Resampling = resampling
		job.DataType = dtype
		job.MaskGeometry = maskGeometry
		job.MaskValues = maskValues
		job.MaskQuality = maskQuality
		job.Percentile = &percentile
		return runJob(cmd.Context(), job, output, remote)
	},
}

var demSource string

var demCmd = &cobra.Command{
	Use:   "dem",
	Short: "mosaic elevation tiles covering a region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var collection string
		switch demSource {
		case "cop", utils.CopernicusDEMCollection:
			collection = utils.CopernicusDEMCollection
		case "deltadtm", utils.DeltaDTMCollection:
			collection = utils.DeltaDTMCollection
		default:
			return fmt.Errorf("unknown DEM source %q, expected cop or deltadtm", demSource)
		}
		bbox, err := parseBBox(compositeFlags.bbox)
		if err != nil {
			return err
		}
		job := &compositor.Job{
			Namespace:  namespace,
			Collection: collection,
			BBox:       bbox,
			CRS:        dstCRS,
			Resolution: resolution,
		}
		return runJob(cmd.Context(), job, output, remote)
	},
}

// runJob runs job on this host, or on the configured worker nodes when
// onWorkers is set, and prints the result.
func runJob(ctx context.Context, job *compositor.Job, out string, onWorkers bool) error {
	if len(job.ID) == 0 {
		job.ID = uuid.NewString()
	}

	var res *compositor.Result
	var err error
	if onWorkers {
		job.Output = out
		svc := config().ServiceConfig
		if len(svc.WorkerNodes) == 0 {
			return fmt.Errorf("no worker_nodes configured")
		}
		var client *compositor.Client
		client, err = compositor.Dial(svc.WorkerNodes, svc.MaxGrpcRecvMsgSize, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		res, err = client.Composite(ctx, job)
	} else {
		if len(out) == 0 {
			out = job.OutputName()
		}
		abs, e := filepath.Abs(out)
		if e != nil {
			return e
		}
		job.Output = filepath.Base(abs)
		job.Progress = verbose

		var metricsLogger metrics.Logger
		if verbose {
			metricsLogger = metrics.NewStdoutLogger(logger)
		}
		runner := compositor.NewRunner(configs, filepath.Dir(abs), metricsLogger, logger)
		res, err = runner.Run(ctx, job, "", 0)
	}
	if err != nil {
		return err
	}

	logger.Info("job done", zap.String("job", res.ID), zap.Strings("files", res.Files), zap.Int("items", res.Items))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	compositeFlags.register(compositeCmd, utils.Sentinel2Collection)
	f := compositeCmd.Flags()
	f.StringSliceVar(&bands, "bands", nil, "bands to load, the collection defaults when empty")
	f.StringSliceVar(&indices, "indices", nil, "spectral indices to add, e.g. NDWI,NDVI")
	f.StringVar(&resampling, "resampling", "", "resampling method")
	f.StringVar(&dtype, "dtype", "", "output data type")
	f.IntVar(&percentile, "percentile", 50, "composite percentile, 0 keeps every time step")
	f.BoolVar(&maskGeometry, "mask-geometry", false, "mask pixels outside the search geometry")
	f.Float64SliceVar(&maskValues, "mask-values", nil, "pixel values to mask")
	f.BoolVar(&maskQuality, "mask-quality", false, "mask with the collection quality band")

	demCmd.Flags().StringVar(&demSource, "source", "cop", "cop or deltadtm")
	demCmd.Flags().StringVar(&compositeFlags.bbox, "bbox", "", "region as west,south,east,north in EPSG:4326")

	for _, cmd := range []*cobra.Command{compositeCmd, demCmd} {
		cmd.Flags().Float64Var(&resolution, "resolution", 0, "output resolution in units of --crs")
		cmd.Flags().StringVar(&dstCRS, "crs", "", "output CRS; when empty, the UTM zone of the region for composites and the native tile CRS for DEMs")
		cmd.Flags().StringVarP(&output, "output", "o", "", "output GeoTIFF, <job id>.tif when empty")
		cmd.Flags().StringVar(&namespace, "namespace", "", "configuration namespace")
		cmd.Flags().BoolVar(&remote, "remote", false, "run on the configured worker nodes")
	}
	demCmd.MarkFlagRequired("bbox")
}
