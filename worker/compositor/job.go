package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/utils"
	"google.golang.org/protobuf/types/known/structpb"
)

// Job is a single search, load and composite request.
type Job struct {
	ID         string `json:"id"`
	Namespace  string `json:"namespace,omitempty"`
	Collection string `json:"collection"`

	// Search region: BBox (west, south, east, north in EPSG:4326) or a
	// GeoJSON Feature in GeometryCRS.
	BBox        []float64              `json:"bbox,omitempty"`
	Geometry    json.RawMessage        `json:"geometry,omitempty"`
	GeometryCRS string                 `json:"geometry_crs,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
	MaxItems    int                    `json:"max_items,omitempty"`

	Bands           []string  `json:"bands,omitempty"`
	Resolution      float64   `json:"resolution,omitempty"`
	CRS             string    `json:"crs,omitempty"`
	Resampling      string    `json:"resampling,omitempty"`
	DataType        string    `json:"dtype,omitempty"`
	Percentile      *int      `json:"percentile,omitempty"`
	SpectralIndices []string  `json:"spectral_indices,omitempty"`
	MaskGeometry    bool      `json:"mask_geometry,omitempty"`
	MaskValues      []float64 `json:"mask_values,omitempty"`
	MaskQuality     bool      `json:"mask_quality,omitempty"`
	Progress        bool      `json:"progress,omitempty"`

	// Output file name relative to the worker output directory.
	Output string `json:"output,omitempty"`
}

// Result describes the files written for a job.
type Result struct {
	ID    string                 `json:"id"`
	Files []string               `json:"files"`
	Items int                    `json:"items"`
	Info  *processor.DatasetInfo `json:"info,omitempty"`
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return fmt.Errorf("Empty message")
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (j *Job) ToStruct() (*structpb.Struct, error) {
	return toStruct(j)
}

func JobFromStruct(s *structpb.Struct) (*Job, error) {
	job := &Job{}
	if err := fromStruct(s, job); err != nil {
		return nil, fmt.Errorf("Invalid job: %v", err)
	}
	return job, job.Validate()
}

func (r *Result) ToStruct() (*structpb.Struct, error) {
	return toStruct(r)
}

func ResultFromStruct(s *structpb.Struct) (*Result, error) {
	r := &Result{}
	if err := fromStruct(s, r); err != nil {
		return nil, fmt.Errorf("Invalid result: %v", err)
	}
	return r, nil
}

// Validate checks the job and assigns an ID when missing.
func (j *Job) Validate() error {
	if len(j.ID) == 0 {
		j.ID = uuid.New().String()
	}
	if len(j.Collection) == 0 {
		return fmt.Errorf("Job %s: collection is required", j.ID)
	}
	if len(j.BBox) == 0 && len(j.Geometry) == 0 {
		return fmt.Errorf("Job %s: bbox or geometry is required", j.ID)
	}
	if len(j.BBox) > 0 && len(j.BBox) != 4 {
		return fmt.Errorf("Job %s: bbox must have 4 values, got %d", j.ID, len(j.BBox))
	}
	if j.Percentile != nil && (*j.Percentile < 0 || *j.Percentile > 100) {
		return fmt.Errorf("Job %s: %w", j.ID, processor.ErrInvalidPercentile)
	}
	if strings.Contains(j.Output, "..") || filepath.IsAbs(j.Output) {
		return fmt.Errorf("Job %s: output must be a relative path", j.ID)
	}
	return nil
}

// ROI returns the search region of the job.
func (j *Job) ROI() (*utils.ROI, error) {
	if len(j.Geometry) > 0 {
		return utils.ParseROIFeature(j.Geometry, j.GeometryCRS)
	}
	return utils.BoxROI(j.BBox[0], j.BBox[1], j.BBox[2], j.BBox[3]), nil
}

// OutputName returns the output file name, defaulting to <id>.tif.
func (j *Job) OutputName() string {
	if len(j.Output) > 0 {
		return j.Output
	}
	return j.ID + ".tif"
}

func (j *Job) loadOptions() []processor.LoadOption {
	var opts []processor.LoadOption
	if j.Resolution > 0 {
		opts = append(opts, processor.WithResolution(j.Resolution))
	}
	if len(j.CRS) > 0 {
		opts = append(opts, processor.WithCRS(j.CRS))
	}
	if len(j.Resampling) > 0 {
		opts = append(opts, processor.WithResampling(j.Resampling))
	}
	if len(j.DataType) > 0 {
		opts = append(opts, processor.WithDataType(j.DataType))
	}
	if j.Progress {
		opts = append(opts, processor.WithProgress(true))
	}
	return opts
}

// Apply configures an image collection builder with the job.
func (j *Job) Apply(ctx context.Context, c *processor.ImageCollection, cfg *utils.CollectionConfig) (*processor.ImageCollection, error) {
	roi, err := j.ROI()
	if err != nil {
		return nil, err
	}

	var filter processor.FilterFunc
	if j.MaxItems > 0 {
		filter = processor.NewSortedFilter(j.MaxItems)
	}
	c = c.Search(ctx, roi, j.Datetime, j.Query, filter).
		Load(j.Bands, j.loadOptions()...)

	if j.MaskGeometry || len(j.MaskValues) > 0 {
		c = c.Mask(maskGeometry(j.MaskGeometry, roi), true, j.MaskValues)
	}
	if j.MaskQuality {
		if cfg == nil || cfg.Mask == nil {
			return nil, fmt.Errorf("Job %s: collection %s has no quality mask configured", j.ID, j.Collection)
		}
		c = c.MaskQuality(cfg.Mask)
	}
	if j.Percentile != nil {
		c = c.Composite(*j.Percentile, nil)
	}
	if len(j.SpectralIndices) > 0 {
		c = c.AddSpectralIndices(j.SpectralIndices)
	}
	return c, c.Err()
}

// ApplyTiles configures a tile collection builder with the job.
func (j *Job) ApplyTiles(ctx context.Context, t *processor.TileCollection) (*processor.TileCollection, error) {
	roi, err := j.ROI()
	if err != nil {
		return nil, err
	}
	var opts []processor.LoadOption
	if len(j.Bands) > 0 {
		opts = append(opts, processor.WithBands(j.Bands...))
	}
	if len(j.CRS) > 0 {
		opts = append(opts, processor.WithDstCRS(j.CRS))
	}
	if j.Resolution > 0 {
		opts = append(opts, processor.WithResolution(j.Resolution))
	}
	t = t.Search(ctx, roi).Load(opts...)
	return t, t.Err()
}

func maskGeometry(enabled bool, roi *utils.ROI) *utils.ROI {
	if enabled {
		return roi
	}
	return nil
}
