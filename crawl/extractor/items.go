package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nci/stacomp/stac"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const stacVersion = "1.0.0"

// ItemFromRaster describes a raster file as a STAC item of collection
// with a single "data" asset.
func ItemFromRaster(info *RasterInfo, collection string) (*stac.Item, error) {
	bbox := orb.Bound{Min: orb.Point{info.BBox[0], info.BBox[1]}, Max: orb.Point{info.BBox[2], info.BBox[3]}}
	geom, err := geojson.NewGeometry(bbox.ToPolygon()).MarshalJSON()
	if err != nil {
		return nil, err
	}

	base := filepath.Base(info.FileName)
	props := map[string]interface{}{
		stac.PropDatetime:      nil,
		stac.PropProjEPSG:      info.EPSG,
		stac.PropProjShape:     []int{info.YSize, info.XSize},
		stac.PropProjTransform: []float64{info.GeoTransform[1], info.GeoTransform[2], info.GeoTransform[0], info.GeoTransform[4], info.GeoTransform[5], info.GeoTransform[3]},
	}
	if info.TimeStamp != nil {
		props[stac.PropDatetime] = info.TimeStamp.Format("2006-01-02T15:04:05Z")
	}
	if info.NoData != nil {
		props["nodata"] = *info.NoData
	}

	return &stac.Item{
		Type:        "Feature",
		StacVersion: stacVersion,
		ID:          strings.TrimSuffix(base, filepath.Ext(base)),
		Collection:  collection,
		Geometry:    geom,
		BBox:        info.BBox[:],
		Properties:  props,
		Assets: map[string]stac.Asset{
			"data": {
				Href:  info.FileName,
				Type:  "image/tiff; application=geotiff",
				Title: info.DataType,
				Roles: []string{"data"},
			},
		},
	}, nil
}

// ReadItems decodes a FeatureCollection, a single Feature or one Feature
// per line. Items without a bbox get one from their geometry.
func ReadItems(r io.Reader) ([]*stac.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	var items []*stac.Item
	dec := json.NewDecoder(bytes.NewReader(data))
	err = dec.Decode(&head)
	switch {
	case err == nil && !dec.More() && head.Type == "FeatureCollection":
		var coll stac.ItemCollection
		if err := json.Unmarshal(data, &coll); err != nil {
			return nil, fmt.Errorf("Problem decoding FeatureCollection: %v", err)
		}
		items = coll.Features
	case err == nil && !dec.More() && head.Type == "Feature":
		var it stac.Item
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, fmt.Errorf("Problem decoding Feature: %v", err)
		}
		items = append(items, &it)
	default:
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			var it stac.Item
			if err := json.Unmarshal(text, &it); err != nil {
				return nil, fmt.Errorf("Problem decoding item on line %d: %v", line, err)
			}
			items = append(items, &it)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	for _, it := range items {
		if len(it.ID) == 0 {
			return nil, fmt.Errorf("Item without id")
		}
		if len(it.BBox) >= 4 {
			continue
		}
		b, err := it.Bound()
		if err != nil {
			return nil, fmt.Errorf("Item %s: %v", it.ID, err)
		}
		it.BBox = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return items, nil
}
