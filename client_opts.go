package keg

import (
	"log/slog"

	"github.com/ngdp/keg/cdn"
)

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets a logger for the client. The logger is propagated to
// the underlying object store and responses side-store, and to the CDN
// client the Client builds itself (not to one given via WithCDNClient).
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithCDNClient sets a custom CDN client, e.g. one configured with
// cdn.WithHTTPClient for a test double or a proxying transport.
func WithCDNClient(client *cdn.Client) Option {
	return func(c *Client) error {
		c.cdn = client
		return nil
	}
}

// WithForcedCDNURL forces CDN selection to a specific URL, bypassing the
// preferred-list and first-in-catalog fallbacks.
func WithForcedCDNURL(url string) Option {
	return func(c *Client) error {
		c.forcedCDNURL = url
		return nil
	}
}

// WithPreferredCDNs sets the ordered, case-insensitive list of preferred
// CDN names consulted when no CDN URL is forced.
func WithPreferredCDNs(names ...string) Option {
	return func(c *Client) error {
		c.preferredCDNs = append(c.preferredCDNs, names...)
		return nil
	}
}
