package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"text/tabwriter"

	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/nci/stacomp/worker/compositor"
	"github.com/spf13/cobra"
)

// regionFlags are shared by every command that takes a search region.
type regionFlags struct {
	collection  string
	bbox        string
	geometry    string
	geometryCRS string
	datetime    string
	maxCloud    float64
	maxItems    int
}

func (f *regionFlags) register(cmd *cobra.Command, collection string) {
	cmd.Flags().StringVar(&f.collection, "collection", collection, "STAC collection")
	cmd.Flags().StringVar(&f.bbox, "bbox", "", "search region as west,south,east,north in EPSG:4326")
	cmd.Flags().StringVar(&f.geometry, "geometry", "", "GeoJSON Feature file holding the search polygon")
	cmd.Flags().StringVar(&f.geometryCRS, "geometry-crs", "EPSG:4326", "CRS of the geometry file")
	cmd.Flags().StringVar(&f.datetime, "datetime", "", "datetime range, e.g. 2023-01-01/2023-12-31")
	cmd.Flags().Float64Var(&f.maxCloud, "max-cloud", -1, "maximum eo:cloud_cover, disabled when negative")
	cmd.Flags().IntVar(&f.maxItems, "max-items", 0, "keep the N least cloudy items per tile and orbit")
}

// job fills the search part of a compositing job.
func (f *regionFlags) job() (*compositor.Job, error) {
	job := &compositor.Job{
		Collection:  f.collection,
		Datetime:    f.datetime,
		MaxItems:    f.maxItems,
		GeometryCRS: f.geometryCRS,
	}
	if len(f.geometry) > 0 {
		b, err := ioutil.ReadFile(f.geometry)
		if err != nil {
			return nil, err
		}
		job.Geometry = b
	} else if len(f.bbox) > 0 {
		bbox, err := parseBBox(f.bbox)
		if err != nil {
			return nil, err
		}
		job.BBox = bbox
	} else {
		return nil, fmt.Errorf("one of --bbox or --geometry is required")
	}
	if f.maxCloud >= 0 {
		job.Query = map[string]interface{}{stac.PropCloudCover: map[string]interface{}{"lt": f.maxCloud}}
	}
	return job, nil
}

var searchFlags regionFlags
var searchJSON bool

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "list the items matching a search",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := searchFlags.job()
		if err != nil {
			return err
		}
		roi, err := job.ROI()
		if err != nil {
			return err
		}
		c, err := processor.OpenImageCollection(cmd.Context(), config(), job.Collection, logger)
		if err != nil {
			return err
		}
		var filter processor.FilterFunc
		if job.MaxItems > 0 {
			filter = processor.NewSortedFilter(job.MaxItems)
		}
		if err := c.Search(cmd.Context(), roi, job.Datetime, job.Query, filter).Err(); err != nil {
			return err
		}
		return printItems(c.Items(), searchJSON)
	},
}

func printItems(items []*stac.Item, asJSON bool) error {
	if asJSON {
		out, err := stac.ItemCollectionJSON(items)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATETIME\tTILE\tORBIT\tCLOUD")
	for _, it := range items {
		dt, _ := it.Datetime()
		tile, _ := it.MGRSTile()
		orbit, _ := it.RelativeOrbit()
		cloud, _ := it.CloudCover()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\n", it.ID, dt.Format("2006-01-02T15:04:05Z"), tile, orbit, cloud)
	}
	return w.Flush()
}

func init() {
	searchFlags.register(searchCmd, utils.Sentinel2Collection)
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print a GeoJSON FeatureCollection")
}
