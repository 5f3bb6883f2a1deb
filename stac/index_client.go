package stac

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// IndexClient queries a snapshot index served over HTTP by the index API.
type IndexClient struct {
	c *Client
}

// NewIndexClient returns a client of the index API at address, either a
// full URL or host:port.
func NewIndexClient(address string, opts ...ClientOption) *IndexClient {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	c := &Client{
		URL:        strings.TrimRight(address, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &IndexClient{c: c}
}

func (ic *IndexClient) get(ctx context.Context, query url.Values) ([]*Item, error) {
	href := ic.c.URL + "/?" + query.Encode()
	var coll ItemCollection
	if err := ic.c.getJSON(ctx, href, &coll); err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}
	return coll.Features, nil
}

// Intersects returns the items of collection whose bbox overlaps bounds.
func (ic *IndexClient) Intersects(ctx context.Context, collection string, bounds orb.Bound) ([]*Item, error) {
	query := url.Values{}
	query.Set("intersects", "")
	query.Set("collection", collection)
	query.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1]))
	return ic.get(ctx, query)
}

func (ic *IndexClient) ByIDs(ctx context.Context, collection string, ids []string) ([]*Item, error) {
	query := url.Values{}
	query.Set("collection", collection)
	query.Set("ids", strings.Join(ids, ","))
	return ic.get(ctx, query)
}
