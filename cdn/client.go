// Package cdn implements the HTTP surface NGDP needs: bare GET requests
// against a catalog remote and against a selected CDN's partitioned
// object paths, over plain net/http — NGDP speaks partitioned HTTP GET,
// not the OCI distribution protocol.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ngdp/keg/internal/partition"
)

// Client issues GET requests against a catalog remote and CDN object
// paths.
type Client struct {
	http   *http.Client
	logger *slog.Logger

	timeout         time.Duration
	timeoutOverride bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (for proxies,
// custom transports, or test doubles).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets a per-request timeout, applied after all other options
// regardless of the order WithTimeout and WithHTTPClient are given — it
// always wins, including over a *http.Client passed to WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.timeoutOverride = true
	}
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeoutOverride {
		c.http.Timeout = c.timeout
	}
	return c
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// NetworkError wraps a transport-level or HTTP-status failure, distinct
// from integrity failures: callers warn and skip on a NetworkError but
// treat integrity failures as fatal.
type NetworkError struct {
	URL        string
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cdn: GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("cdn: GET %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AsNetworkError reports whether err is, or wraps, a *NetworkError.
func AsNetworkError(err error) (*NetworkError, bool) {
	var ne *NetworkError
	ok := errors.As(err, &ne)
	return ne, ok
}

// get issues one GET request and returns the body, or a *NetworkError.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	c.log().Debug("cdn get", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	return body, nil
}

// CatalogKind names one of the catalog endpoints a remote exposes.
type CatalogKind string

const (
	KindVersions CatalogKind = "versions"
	KindCDNs     CatalogKind = "cdns"
	KindBGDL     CatalogKind = "bgdl"
	KindBlobs    CatalogKind = "blobs"
)

// FetchCatalog GETs "<remote>/<kind>".
func (c *Client) FetchCatalog(ctx context.Context, remote string, kind CatalogKind) ([]byte, error) {
	return c.get(ctx, strings.TrimRight(remote, "/")+"/"+string(kind))
}

// FetchBlob GETs "<remote>/blob/<name>" (e.g. the "game" or "install"
// blobs).
func (c *Client) FetchBlob(ctx context.Context, remote, name string) ([]byte, error) {
	return c.get(ctx, strings.TrimRight(remote, "/")+"/blob/"+name)
}

// ObjectKind selects which object namespace (config, data, patch) a key
// lives under.
type ObjectKind string

const (
	ObjectConfig ObjectKind = "config"
	ObjectData   ObjectKind = "data"
	ObjectPatch  ObjectKind = "patch"
)

// objectURL builds "<baseURL>/<cdnPath>/<kind>/<aa>/<bb>/<hexKey>", with
// ".index" appended when isIndex is set.
func objectURL(baseURL, cdnPath string, kind ObjectKind, hexKey string, isIndex bool) (string, error) {
	p, err := partition.Path(hexKey)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(baseURL, "/") + "/" + strings.Trim(cdnPath, "/") + "/" + string(kind) + "/" + p
	if isIndex {
		url += ".index"
	}
	return url, nil
}

// FetchObject GETs a config/data/patch object (or its index) by hex key.
func (c *Client) FetchObject(ctx context.Context, baseURL, cdnPath string, kind ObjectKind, hexKey string, isIndex bool) ([]byte, error) {
	url, err := objectURL(baseURL, cdnPath, kind, hexKey, isIndex)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, url)
}
