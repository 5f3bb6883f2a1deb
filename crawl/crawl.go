package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	extr "github.com/nci/stacomp/crawl/extractor"
	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"go.uber.org/zap"
)

var rasterExts = map[string]bool{".tif": true, ".tiff": true, ".vrt": true, ".nc": true, ".jp2": true}

// collectItems reads items from each path: item JSON documents, raster
// files, or "-" for item JSON on stdin.
func collectItems(paths []string, collection string, stdin io.Reader, logger *zap.Logger) ([]*stac.Item, error) {
	var items []*stac.Item
	for _, path := range paths {
		switch {
		case path == "-":
			its, err := extr.ReadItems(stdin)
			if err != nil {
				return nil, fmt.Errorf("stdin: %v", err)
			}
			items = append(items, its...)
		case rasterExts[strings.ToLower(filepath.Ext(path))]:
			info, err := extr.ExtractRasterInfo(path)
			if err != nil {
				logger.Warn("skipping raster", zap.String("path", path), zap.Error(err))
				continue
			}
			it, err := extr.ItemFromRaster(info, collection)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		default:
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			its, err := extr.ReadItems(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			items = append(items, its...)
		}
	}
	if len(collection) > 0 {
		for _, it := range items {
			it.Collection = collection
		}
	}
	for _, it := range items {
		if len(it.Collection) == 0 {
			return nil, fmt.Errorf("Item %s has no collection, use -collection", it.ID)
		}
	}
	return items, nil
}

func main() {
	dsn := flag.String("dsn", "", "lib/pq DSN of the snapshot index; items are printed to stdout when empty")
	collection := flag.String("collection", "", "collection of the items, required for raster files")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] path... ('-' reads item JSON from stdin)\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := utils.NewLogger(*verbose)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	items, err := collectItems(flag.Args(), *collection, os.Stdin, logger)
	if err != nil {
		logger.Fatal("failed to read items", zap.Error(err))
	}

	if len(*dsn) == 0 {
		out, err := stac.ItemCollectionJSON(items)
		if err != nil {
			logger.Fatal("failed to encode items", zap.Error(err))
		}
		os.Stdout.Write(out)
		return
	}

	index, err := stac.OpenSnapshotIndex(*dsn, 1, 1)
	if err != nil {
		logger.Fatal("failed to open index", zap.Error(err))
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to create schema", zap.Error(err))
	}
	n, err := index.Upsert(ctx, items)
	if err != nil {
		logger.Fatal("failed to upsert items", zap.Int("upserted", n), zap.Error(err))
	}
	logger.Info("items indexed", zap.Int("items", n))
}
