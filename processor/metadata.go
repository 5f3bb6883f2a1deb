package processor

import (
	"fmt"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
)

// AddMetadataFromStac attaches the item id, MGRS tile, cloud cover and
// relative orbit of items to the matching time steps of ds.
func AddMetadataFromStac(items []*stac.Item, ds *utils.Dataset) error {
	if len(items) != ds.NumTimes() {
		return fmt.Errorf("mismatch between STAC items (%d) and dataset time dimension (%d)", len(items), ds.NumTimes())
	}
	coords := make([]utils.TimeCoord, len(items))
	for i, it := range items {
		tile, err := it.MGRSTile()
		if err != nil {
			return err
		}
		cloud, err := it.CloudCover()
		if err != nil {
			return err
		}
		orbit, err := it.RelativeOrbit()
		if err != nil {
			return err
		}
		coords[i] = ds.Times[i]
		coords[i].StacID = it.ID
		coords[i].MGRSTile = tile
		coords[i].CloudCover = cloud
		coords[i].RelativeOrbit = orbit
		coords[i].HasMetadata = true
	}
	copy(ds.Times, coords)
	return nil
}

// orderItemsLike returns items in the order of the loaded time steps
// when grouping by id, so metadata lines up with the data.
func orderItemsLike(items []*stac.Item, params *LoadParams) ([]*stac.Item, error) {
	groups, err := groupItems(items, GroupByID, params.PreserveOriginalOrder)
	if err != nil {
		return nil, err
	}
	out := make([]*stac.Item, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.items...)
	}
	return out, nil
}
