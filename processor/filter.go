package processor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nci/stacomp/stac"
)

// FilterFunc filters or reorders search results before loading.
type FilterFunc func(items []*stac.Item) ([]*stac.Item, error)

// FilterAndSortItems groups items by the groupBy properties, sorts each
// group by sortBy ascending and keeps at most maxItems per group. Groups
// are returned in key order.
func FilterAndSortItems(items []*stac.Item, maxItems int, groupBy []string, sortBy string) ([]*stac.Item, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}
	type entry struct {
		item *stac.Item
		sort float64
	}
	groups := map[string][]entry{}
	for _, it := range items {
		parts := make([]string, len(groupBy))
		for i, prop := range groupBy {
			v, err := it.StringProperty(prop)
			if err != nil {
				return nil, err
			}
			parts[i] = v
		}
		s, err := it.FloatProperty(sortBy)
		if err != nil {
			return nil, err
		}
		key := strings.Join(parts, "\x00")
		groups[key] = append(groups[key], entry{item: it, sort: s})
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*stac.Item
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].sort < g[j].sort })
		if len(g) > maxItems {
			g = g[:maxItems]
		}
		for _, e := range g {
			out = append(out, e.item)
		}
	}
	return out, nil
}

// NewSortedFilter returns a FilterFunc that keeps the maxItems least
// cloudy items per MGRS tile and relative orbit.
func NewSortedFilter(maxItems int) FilterFunc {
	return func(items []*stac.Item) ([]*stac.Item, error) {
		return FilterAndSortItems(items, maxItems,
			[]string{stac.PropMGRSTile, stac.PropRelativeOrbit}, stac.PropCloudCover)
	}
}
