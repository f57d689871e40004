// Package keg is the NGDP client core: a git-like content-addressed tool
// that discovers a build's CDN, fetches and verifies its metadata graph,
// and materializes an installation on the local filesystem.
package keg

import (
	"fmt"
	"log/slog"

	"github.com/ngdp/keg/cdn"
	"github.com/ngdp/keg/responses"
	"github.com/ngdp/keg/store"
)

// Client provides high-level operations against NGDP remotes.
//
// Client wraps the content-addressed object store, the catalog
// responses side-store, and an HTTP CDN client, and adds the fetch
// planner, version resolution, and install logic on top.
type Client struct {
	store     *store.Store
	responses *responses.Store
	cdn       *cdn.Client
	logger    *slog.Logger

	preferredCDNs []string
	forcedCDNURL  string

	remotes map[string]*Remote
}

// Remote is a configured catalog endpoint.
type Remote struct {
	Name    string
	BaseURL string
}

// NewClient creates a Client rooted at dir: dir/objects holds the
// content-addressed store, dir/responses and dir/responses.db hold the
// catalog side-store.
func NewClient(dir string, opts ...Option) (*Client, error) {
	c := &Client{remotes: map[string]*Remote{}}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(dir, store.WithLogger(c.log()))
	if err != nil {
		return nil, fmt.Errorf("keg: %w", err)
	}
	c.store = st

	rs, err := responses.Open(dir, responses.WithLogger(c.log()))
	if err != nil {
		return nil, fmt.Errorf("keg: %w", err)
	}
	c.responses = rs

	if c.cdn == nil {
		c.cdn = cdn.New(cdn.WithLogger(c.log()))
	}

	return c, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Close releases the client's side-store handle.
func (c *Client) Close() error {
	return c.responses.Close()
}

// AddRemote registers a named catalog endpoint for later Fetch calls.
func (c *Client) AddRemote(name, baseURL string) error {
	if name == "" || baseURL == "" {
		return fmt.Errorf("keg: remote name and base url are required")
	}
	c.remotes[name] = &Remote{Name: name, BaseURL: baseURL}
	return nil
}

// Remote returns a previously added remote, or nil if none was registered
// under that name.
func (c *Client) Remote(name string) *Remote {
	return c.remotes[name]
}

// Store exposes the underlying content-addressed object store, for
// callers that need direct object access (e.g. an external CLI's "cat"
// command).
func (c *Client) Store() *store.Store { return c.store }
