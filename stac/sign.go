package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context/ctxhttp"
)

// Signer rewrites asset hrefs so they can be read without further
// credentials.
type Signer interface {
	SignItem(ctx context.Context, item *Item) error
	SignHref(ctx context.Context, href string) (string, error)
}

const blobHostSuffix = ".blob.core.windows.net"

// Tokens are refreshed this long before they expire.
const tokenExpiryMargin = 60 * time.Second

type sasToken struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"msft:expiry"`
}

// PlanetaryComputerSigner appends short lived SAS tokens to Azure blob
// hrefs, fetching one token per storage account and container.
type PlanetaryComputerSigner struct {
	TokenURL   string
	HTTPClient *http.Client

	mu     sync.Mutex
	tokens map[string]sasToken
	now    func() time.Time
}

func NewPlanetaryComputerSigner(tokenURL string, hc *http.Client) *PlanetaryComputerSigner {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &PlanetaryComputerSigner{
		TokenURL:   strings.TrimRight(tokenURL, "/"),
		HTTPClient: hc,
		tokens:     make(map[string]sasToken),
		now:        time.Now,
	}
}

func (s *PlanetaryComputerSigner) SignItem(ctx context.Context, item *Item) error {
	for name, asset := range item.Assets {
		signed, err := s.SignHref(ctx, asset.Href)
		if err != nil {
			return err
		}
		asset.Href = signed
		item.Assets[name] = asset
	}
	return nil
}

// SignHref returns href unchanged when it is not an Azure blob URL or
// already carries a query string.
func (s *PlanetaryComputerSigner) SignHref(ctx context.Context, href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid asset href %q: %v", href, err)
	}
	if !strings.HasSuffix(u.Host, blobHostSuffix) || u.RawQuery != "" {
		return href, nil
	}
	account := strings.TrimSuffix(u.Host, blobHostSuffix)
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return href, nil
	}

	token, err := s.token(ctx, account, parts[0])
	if err != nil {
		return "", err
	}
	u.RawQuery = token
	return u.String(), nil
}

func (s *PlanetaryComputerSigner) token(ctx context.Context, account, container string) (string, error) {
	key := account + "/" + container

	s.mu.Lock()
	tok, ok := s.tokens[key]
	s.mu.Unlock()
	if ok && s.now().Add(tokenExpiryMargin).Before(tok.Expiry) {
		return tok.Token, nil
	}

	resp, err := ctxhttp.Get(ctx, s.HTTPClient, s.TokenURL+"/"+key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch SAS token for %s: %w", key, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SAS token request for %s returned %d: %s", key, resp.StatusCode, truncate(payload, 256))
	}
	if err := json.Unmarshal(payload, &tok); err != nil {
		return "", fmt.Errorf("failed to decode SAS token for %s: %v", key, err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("empty SAS token for %s", key)
	}

	s.mu.Lock()
	s.tokens[key] = tok
	s.mu.Unlock()
	return tok.Token, nil
}

// StaticSigner appends a fixed query string, e.g. a SAS token read from
// the environment.
type StaticSigner struct {
	Query string
}

func (s StaticSigner) SignItem(ctx context.Context, item *Item) error {
	for name, asset := range item.Assets {
		signed, err := s.SignHref(ctx, asset.Href)
		if err != nil {
			return err
		}
		asset.Href = signed
		item.Assets[name] = asset
	}
	return nil
}

func (s StaticSigner) SignHref(ctx context.Context, href string) (string, error) {
	if s.Query == "" {
		return href, nil
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid asset href %q: %v", href, err)
	}
	if u.RawQuery != "" {
		return href, nil
	}
	u.RawQuery = strings.TrimPrefix(s.Query, "?")
	return u.String(), nil
}
