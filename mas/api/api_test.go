package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nci/stacomp/stac"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIndex struct {
	items  []*stac.Item
	err    error
	bounds []orb.Bound
	ids    [][]string
}

func (i *fakeIndex) Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*stac.Item, error) {
	i.bounds = append(i.bounds, bounds)
	return i.items, i.err
}

func (i *fakeIndex) ByIDs(ctx context.Context, collection string, ids []string) ([]*stac.Item, error) {
	i.ids = append(i.ids, ids)
	return i.items, i.err
}

func newTestServer(index *fakeIndex, cache stac.Cache) *httptest.Server {
	return httptest.NewServer(&handler{index: index, cache: cache, logger: zap.NewNop()})
}

func TestIntersectsThroughIndexClient(t *testing.T) {
	index := &fakeIndex{items: []*stac.Item{
		{Type: "Feature", ID: "tile-1", Collection: "deltares-delta-dtm", BBox: []float64{4, 52, 5, 53}},
	}}
	cache := stac.NewMemoryCache()
	srv := newTestServer(index, cache)
	defer srv.Close()

	client := stac.NewIndexClient(srv.URL)
	bounds := orb.Bound{Min: orb.Point{4.5, 52.5}, Max: orb.Point{6, 54}}
	items, err := client.Intersects(context.Background(), "deltares-delta-dtm", bounds)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tile-1", items[0].ID)
	require.Len(t, index.bounds, 1)
	assert.Equal(t, bounds, index.bounds[0])

	// the second identical request is answered from the cache
	_, err = client.Intersects(context.Background(), "deltares-delta-dtm", bounds)
	require.NoError(t, err)
	assert.Len(t, index.bounds, 1)

	items, err = client.ByIDs(context.Background(), "deltares-delta-dtm", []string{"tile-1", "tile-2"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, [][]string{{"tile-1", "tile-2"}}, index.ids)
}

func TestHandlerErrors(t *testing.T) {
	index := &fakeIndex{}
	srv := newTestServer(index, nil)
	defer srv.Close()

	for _, q := range []string{
		"?intersects&bbox=0,0,1,1",
		"?collection=x",
		"?intersects&collection=x",
		"?intersects&collection=x&bbox=1,0,0,1",
		"?intersects&collection=x&bbox=a,b,c,d",
		"?intersects&collection=x&wkt=POLYGON((",
	} {
		resp, err := http.Get(srv.URL + "/" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	assert.Empty(t, index.bounds)

	resp, err := http.Get(srv.URL + "/?intersects&collection=x&wkt=POLYGON((0%200,2%200,2%201,0%200))")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, index.bounds, 1)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}}, index.bounds[0])

	index.err = errors.New("connection refused")
	resp, err = http.Get(srv.URL + "/?intersects&collection=x&bbox=0,0,1,1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPJSONError(t *testing.T) {
	msg := "bad \x00 \"wkt\" \u00e9"
	rec := httptest.NewRecorder()
	httpJSONError(rec, errors.New(msg), http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, msg, body.Error)
}
