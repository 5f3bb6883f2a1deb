package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/context/ctxhttp"
)

// MaxPages bounds how many next links a single search follows.
const MaxPages = 1000

// Client talks to a STAC API over plain HTTP JSON.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Cache      Cache
	Signer     Signer
	Logger     *zap.Logger

	Title       string
	Description string
	ConformsTo  []string
	links       []Link
}

type landingPage struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ConformsTo  []string `json:"conformsTo"`
	Links       []Link   `json:"links"`
}

// Open reads the landing page of the catalog at url.
func Open(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		URL:        strings.TrimRight(url, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var page landingPage
	if err := c.getJSON(ctx, c.URL, &page); err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", c.URL, err)
	}
	c.Title = page.Title
	c.Description = page.Description
	c.ConformsTo = page.ConformsTo
	c.links = page.Links
	return c, nil
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.HTTPClient = hc }
}

func WithCache(cache Cache) ClientOption {
	return func(c *Client) { c.Cache = cache }
}

func WithSigner(s Signer) ClientOption {
	return func(c *Client) { c.Signer = s }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func (c *Client) searchURL() string {
	for _, l := range c.links {
		if l.Rel == "search" && (l.Method == "" || strings.EqualFold(l.Method, http.MethodPost)) {
			return l.Href
		}
	}
	return c.URL + "/search"
}

// GetCollection fetches collection metadata by id.
func (c *Client) GetCollection(ctx context.Context, id string) (*Collection, error) {
	var coll Collection
	if err := c.getJSON(ctx, c.URL+"/collections/"+id, &coll); err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", id, err)
	}
	return &coll, nil
}

// Search posts the parameters and follows next links until exhausted.
// Items are signed when the client has a Signer.
func (c *Client) Search(ctx context.Context, params *SearchParams) ([]*Item, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var items []*Item
	method, href := http.MethodPost, c.searchURL()
	for page := 0; page < MaxPages; page++ {
		var ic ItemCollection
		if err := c.doJSON(ctx, method, href, body, &ic); err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		items = append(items, ic.Features...)
		c.Logger.Debug("search page",
			zap.Int("page", page),
			zap.Int("features", len(ic.Features)),
			zap.Int("items", len(items)))

		next := ic.NextLink()
		if next == nil || len(ic.Features) == 0 {
			break
		}
		href = next.Href
		method = http.MethodGet
		body = nil
		if next.Method != "" && strings.EqualFold(next.Method, http.MethodPost) {
			method = http.MethodPost
			body, err = nextBody(params, next)
			if err != nil {
				return nil, err
			}
		}
	}

	if c.Signer != nil {
		for _, it := range items {
			if err := c.Signer.SignItem(ctx, it); err != nil {
				return nil, fmt.Errorf("failed to sign item %s: %w", it.ID, err)
			}
		}
	}
	return items, nil
}

func nextBody(params *SearchParams, next *Link) ([]byte, error) {
	if !next.Merge {
		return json.Marshal(next.Body)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range next.Body {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *Client) getJSON(ctx context.Context, href string, v interface{}) error {
	return c.doJSON(ctx, http.MethodGet, href, nil, v)
}

func (c *Client) doJSON(ctx context.Context, method, href string, body []byte, v interface{}) error {
	var key string
	if c.Cache != nil {
		key = cacheKey(method, href, string(body))
		if cached, ok := c.Cache.Get(key); ok {
			return json.Unmarshal(cached, v)
		}
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, href, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ctxhttp.Do(ctx, c.HTTPClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s returned %d: %s", method, href, resp.StatusCode, truncate(payload, 256))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %v", href, err)
	}

	if c.Cache != nil {
		c.Cache.Set(key, payload)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
