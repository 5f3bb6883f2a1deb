package processor

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/nci/stacomp/utils"
	"gonum.org/v1/gonum/stat"
)

// Attribute keys written on composites.
const (
	AttrCloudCover          = "eo:cloud_cover"
	AttrDeterminationMethod = "composite:determination_method"
	AttrPercentile          = "composite:percentile"
	AttrGroups              = "composite:groups"
	AttrAvgObs              = "composite:avg_obs"
	AttrStacIDs             = "composite:stac_ids"
	AttrAvgInterval         = "composite:avg_interval"
	AttrSummary             = "composite:summary"
)

// AvgIntervalUnavailable is reported when no group has two observations,
// as the mean of no intervals printed in days.
const AvgIntervalUnavailable = "nan days"

type groupMetadata struct {
	start       time.Time
	end         time.Time
	avgInterval *time.Duration
	nObs        int
}

func compositeGroupKey(tc utils.TimeCoord) string {
	return tc.MGRSTile + "_" + strconv.Itoa(tc.RelativeOrbit)
}

// Quantile returns the q-th quantile of values, ignoring NaN, using
// linear interpolation between closest ranks. values is reordered.
func Quantile(values []float64, q float64) float64 {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			values[n] = v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	valid := values[:n]
	sort.Float64s(valid)
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return valid[n-1]
	}
	return valid[lo] + (h-float64(lo))*(valid[lo+1]-valid[lo])
}

func computeGroupMetadata(times []time.Time) groupMetadata {
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	md := groupMetadata{start: sorted[0], end: sorted[len(sorted)-1], nObs: len(sorted)}
	if len(sorted) > 1 {
		var total time.Duration
		for i := 1; i < len(sorted); i++ {
			total += sorted[i].Sub(sorted[i-1])
		}
		avg := total / time.Duration(len(sorted)-1)
		md.avgInterval = &avg
	}
	return md
}

// formatAvgInterval averages the group intervals and floors to whole days.
func formatAvgInterval(groups []groupMetadata) string {
	var total time.Duration
	n := 0
	for _, g := range groups {
		if g.avgInterval != nil {
			total += *g.avgInterval
			n++
		}
	}
	if n == 0 {
		return AvgIntervalUnavailable
	}
	mean := total / time.Duration(n)
	days := int(math.Floor(mean.Hours() / 24))
	return fmt.Sprintf("%d days", days)
}

// Composite reduces ds to a single time step. Observations are grouped
// by MGRS tile and relative orbit, ordered by cloud cover, reduced per
// group by the percentile (50 is the median) and the groups are combined
// in key order, each filling pixels still missing.
func Composite(ds *utils.Dataset, percentile int) (*utils.Dataset, error) {
	out, err := composite(ds, percentile)
	if err != nil {
		return nil, fmt.Errorf("failed to generate composite: %w", err)
	}
	return out, nil
}

func composite(ds *utils.Dataset, percentile int) (*utils.Dataset, error) {
	if percentile < 0 || percentile > 100 {
		return nil, ErrInvalidPercentile
	}
	if ds.NumTimes() == 0 {
		return nil, fmt.Errorf("dataset has no time steps")
	}
	for _, tc := range ds.Times {
		if !tc.HasMetadata {
			return nil, fmt.Errorf("time step %s has no STAC metadata", tc.Time.Format(time.RFC3339))
		}
	}

	sorted := ds.Clone()
	sorted.SortTimes(func(a, b utils.TimeCoord) bool { return a.CloudCover < b.CloudCover })

	members := map[string][]int{}
	var appearance []string
	cloudCover := make([]float64, len(sorted.Times))
	stacIDs := make([]string, len(sorted.Times))
	for i, tc := range sorted.Times {
		key := compositeGroupKey(tc)
		if _, ok := members[key]; !ok {
			appearance = append(appearance, key)
		}
		members[key] = append(members[key], i)
		cloudCover[i] = tc.CloudCover
		stacIDs[i] = tc.StacID
	}
	keys := append([]string(nil), appearance...)
	sort.Strings(keys)

	q := float64(percentile) / 100
	size := sorted.GeoBox.Width * sorted.GeoBox.Height

	result := &utils.Dataset{
		GeoBox: sorted.GeoBox,
		X:      sorted.X,
		Y:      sorted.Y,
		Vars:   make(map[string]*utils.Variable, len(sorted.Vars)),
		Order:  append([]string(nil), sorted.Order...),
		Attrs:  sorted.Attrs,
	}

	buf := make([]float64, 0, len(sorted.Times))
	for _, name := range sorted.Order {
		src := sorted.Vars[name]
		collapsed := utils.NaNSlice(size)
		for _, key := range keys {
			idx := members[key]
			for px := 0; px < size; px++ {
				if !utils.IsNaN32(collapsed[px]) {
					continue
				}
				buf = buf[:0]
				for _, t := range idx {
					buf = append(buf, float64(src.Data[t][px]))
				}
				v := Quantile(buf, q)
				if !math.IsNaN(v) {
					collapsed[px] = float32(v)
				}
			}
		}
		result.Vars[name] = &utils.Variable{
			Name:   name,
			NoData: src.NoData,
			Attrs:  src.Attrs,
			Data:   [][]float32{collapsed},
		}
	}

	groups := make([]groupMetadata, 0, len(keys))
	for _, key := range keys {
		var times []time.Time
		for _, t := range members[key] {
			times = append(times, sorted.Times[t].Time)
		}
		groups = append(groups, computeGroupMetadata(times))
	}
	start, end := groups[0].start, groups[0].end
	nObs := make([]float64, len(groups))
	for i, g := range groups {
		if g.start.Before(start) {
			start = g.start
		}
		if g.end.After(end) {
			end = g.end
		}
		nObs[i] = float64(g.nObs)
	}
	avgObs := stat.Mean(nObs, nil)

	result.Times = []utils.TimeCoord{{Time: start, StartDatetime: start, EndDatetime: end}}

	method := "percentile"
	if percentile == 50 {
		method = "median"
	}
	summary, err := CompositeSummary(percentile, avgObs)
	if err != nil {
		return nil, err
	}
	result.Attrs[AttrCloudCover] = stat.Mean(cloudCover, nil)
	result.Attrs[AttrDeterminationMethod] = method
	result.Attrs[AttrPercentile] = percentile
	result.Attrs[AttrGroups] = appearance
	result.Attrs[AttrAvgObs] = avgObs
	result.Attrs[AttrStacIDs] = stacIDs
	result.Attrs[AttrAvgInterval] = formatAvgInterval(groups)
	result.Attrs[AttrSummary] = summary
	return result, nil
}
