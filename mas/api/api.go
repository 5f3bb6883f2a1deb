// Snapshot index API
// Serves STAC items of static catalog snapshots stored in Postgres.

package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nci/stacomp/stac"
	"github.com/nci/stacomp/utils"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"go.uber.org/zap"
)

var (
	dbName   = flag.String("database", "stac", "database name")
	dbUser   = flag.String("user", "api", "database user name")
	dbHost   = flag.String("host", "/var/run/postgresql", "database host or socket directory")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8080, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	verbose  = flag.Bool("v", false, "verbose logging")
)

type itemIndex interface {
	Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*stac.Item, error)
	ByIDs(ctx context.Context, collection string, ids []string) ([]*stac.Item, error)
}

type handler struct {
	index  itemIndex
	cache  stac.Cache
	logger *zap.Logger
}

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{err.Error()})
	response.Header().Set("Content-Type", "application/json")
	response.Header().Set("X-Content-Type-Options", "nosniff")
	response.WriteHeader(status)
	response.Write(body)
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be west,south,east,north: %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox value %q: %v", p, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox minimum exceeds maximum: %q", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// region reads the search bounds from bbox or, failing that, wkt.
func region(query url.Values) (orb.Bound, error) {
	if b := query.Get("bbox"); len(b) > 0 {
		return parseBBox(b)
	}
	if w := query.Get("wkt"); len(w) > 0 {
		g, err := wkt.Unmarshal(w)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid wkt: %v", err)
		}
		return g.Bound(), nil
	}
	return orb.Bound{}, errors.New("intersects requires bbox or wkt")
}

func (h *handler) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")

	var hash string
	if h.cache != nil {
		buff := md5.Sum([]byte(request.URL.RequestURI()))
		hash = hex.EncodeToString(buff[:])

		if cached, ok := h.cache.Get(hash); ok {
			response.Write(cached)
			return
		}
	}

	query := request.URL.Query()
	collection := query.Get("collection")
	if len(collection) == 0 {
		httpJSONError(response, errors.New("collection is required"), http.StatusBadRequest)
		return
	}

	var items []*stac.Item
	var err error
	if _, ok := query["intersects"]; ok {
		bounds, e := region(query)
		if e != nil {
			httpJSONError(response, e, http.StatusBadRequest)
			return
		}
		items, err = h.index.Intersects(request.Context(), collection, bounds)
	} else if ids := query.Get("ids"); len(ids) > 0 {
		items, err = h.index.ByIDs(request.Context(), collection, strings.Split(ids, ","))
	} else {
		httpJSONError(response, errors.New("unknown operation; currently supported: ?intersects, ?ids"), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("index query failed", zap.String("uri", request.URL.RequestURI()), zap.Error(err))
		httpJSONError(response, err, http.StatusBadRequest)
		return
	}

	payload, err := stac.ItemCollectionJSON(items)
	if err != nil {
		httpJSONError(response, err, http.StatusInternalServerError)
		return
	}
	response.Write(payload)

	if h.cache != nil {
		h.cache.Set(hash, payload)
	}
}

func main() {
	flag.Parse()

	logger, err := utils.NewLogger(*verbose)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting index API", zap.String("dbUser", *dbUser), zap.String("dbName", *dbName),
		zap.Int("dbPool", *dbPool), zap.Int("httpPort", *httpPort))

	dbinfo := fmt.Sprintf("user=%s host=%s dbname=%s sslmode=disable", *dbUser, *dbHost, *dbName)
	index, err := stac.OpenSnapshotIndex(dbinfo, *dbPool, *dbLimit)
	if err != nil {
		panic(err)
	}
	defer index.Close()

	h := &handler{index: index, logger: logger}
	if *mcURI != "" {
		h.cache = stac.NewMemcacheCache(*mcURI, 0)
	}

	http.Handle("/", h)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), nil); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
