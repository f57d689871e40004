package keg

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ngdp/keg/catalog"
	"github.com/ngdp/keg/cdn"
	"github.com/ngdp/keg/fetch"
	"github.com/ngdp/keg/psv"
	"github.com/ngdp/keg/responses"
)

// FetchOptions controls a Client.Fetch call.
type FetchOptions struct {
	// MetadataOnly stops the plan after configs, indices and the
	// manifests named by each build-config, before archive bodies, loose
	// files, or patch files are fetched.
	MetadataOnly bool
	// Concurrency bounds per-phase parallel downloads; 0 uses the
	// fetch planner's default.
	Concurrency int
}

// FetchResult is what Client.Fetch returns: the parsed catalog views for
// the remote and the fetch planner's report.
type FetchResult struct {
	Versions *catalog.Versions
	CDNs     *catalog.CDNs
	BGDL     *catalog.Blobs // nil if the remote has no /bgdl
	Blobs    *catalog.Blobs // nil if the remote has no /blobs
	Plan     *fetch.Report
}

// Fetch performs CDN resolution and walks the fetch plan for every
// version row in the remote's Versions catalog: fetches and caches
// /versions, /cdns, /bgdl, /blobs; selects a CDN; then deduplicates and
// downloads configs, indices, manifests, and (unless MetadataOnly)
// bodies, loose files, and patch files.
func (c *Client) Fetch(ctx context.Context, remoteName string, opts FetchOptions) (*FetchResult, error) {
	remote := c.Remote(remoteName)
	if remote == nil {
		return nil, fmt.Errorf("keg: unknown remote %q", remoteName)
	}

	versionsDoc, err := c.fetchRequiredCatalog(ctx, remote, cdn.KindVersions)
	if err != nil {
		return nil, err
	}
	versions, err := catalog.ParseVersions(versionsDoc)
	if err != nil {
		return nil, fmt.Errorf("keg: parsing versions catalog: %w", err)
	}

	cdnsDoc, err := c.fetchRequiredCatalog(ctx, remote, cdn.KindCDNs)
	if err != nil {
		return nil, err
	}
	cdns, err := catalog.ParseCDNs(cdnsDoc)
	if err != nil {
		return nil, fmt.Errorf("keg: parsing cdns catalog: %w", err)
	}

	result := &FetchResult{Versions: versions, CDNs: cdns}

	if doc, err := c.fetchOptionalCatalog(ctx, remote, cdn.KindBGDL); err == nil && doc != nil {
		result.BGDL, _ = catalog.ParseBlobs(doc)
	}
	if doc, err := c.fetchOptionalCatalog(ctx, remote, cdn.KindBlobs); err == nil && doc != nil {
		result.Blobs, _ = catalog.ParseBlobs(doc)
	}

	selected, err := cdns.SelectCDN(c.forcedCDNURL, c.preferredCDNs)
	if err != nil {
		return result, fmt.Errorf("keg: selecting cdn: %w", err)
	}

	planner := fetch.New(c.store, c.cdn, selected).WithLogger(c.log())
	report, err := planner.Fetch(ctx, versions.Rows, fetch.Options{
		MetadataOnly: opts.MetadataOnly,
		Concurrency:  opts.Concurrency,
	})
	result.Plan = report
	if err != nil {
		return result, err
	}
	return result, nil
}

// fetchRequiredCatalog fetches and caches a required catalog endpoint
// (versions, cdns); a failure here fails the command.
func (c *Client) fetchRequiredCatalog(ctx context.Context, remote *Remote, kind cdn.CatalogKind) (*psv.Document, error) {
	doc, err := c.fetchOptionalCatalog(ctx, remote, kind)
	if err != nil {
		return nil, fmt.Errorf("keg: required catalog %q: %w", kind, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("keg: required catalog %q not available", kind)
	}
	return doc, nil
}

// fetchOptionalCatalog fetches and caches a catalog endpoint, returning
// (nil, nil) on any network error, a 404 included. Missing optional
// catalogs (bgdl, blobs) are skipped without warning.
func (c *Client) fetchOptionalCatalog(ctx context.Context, remote *Remote, kind cdn.CatalogKind) (*psv.Document, error) {
	body, err := c.cdn.FetchCatalog(ctx, remote.BaseURL, kind)
	if err != nil {
		if _, ok := cdn.AsNetworkError(err); ok {
			return nil, nil
		}
		return nil, err
	}

	digest, err := c.responses.Record(ctx, remote.BaseURL, string(kind), string(kind), body, responses.SourceNetwork, time.Now())
	if err != nil {
		c.log().Warn("recording catalog response failed", "kind", kind, "error", err)
	}

	doc, err := psv.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("keg: parsing %q: %w", kind, err)
	}

	if digest != "" {
		c.cacheCatalogRows(ctx, remote.BaseURL, digest, doc)
	}
	return doc, nil
}

// cacheCatalogRows persists each parsed row of a catalog response under
// (remote, response_digest, row_number), so a repeat parse of the same
// response body can be served from the side-store instead of re-parsing
// the raw bytes. Failures are logged, not fatal: the row cache is a
// convenience, not the source of truth for the parsed document already
// returned to the caller.
func (c *Client) cacheCatalogRows(ctx context.Context, remoteName, digest string, doc *psv.Document) {
	for i, row := range doc.Rows {
		rowData := psv.SerializeRow(doc.Header, row)
		if err := c.responses.PutCatalogRow(ctx, remoteName, digest, i, rowData); err != nil {
			c.log().Warn("caching catalog row failed", "remote", remoteName, "digest", digest, "row", i, "error", err)
			return
		}
	}
}
