package keg

import "github.com/ngdp/keg/catalog"

// ResolveVersion resolves a single version row out of a fetched remote's
// Versions catalog by build name, build ID, or build-config key, failing
// with catalog.ErrAmbiguous if more than one distinct build matches or
// catalog.ErrNoMatch if none do.
func (r *FetchResult) ResolveVersion(sel catalog.Selector, value string) (catalog.VersionRow, error) {
	return r.Versions.Resolve(sel, value)
}
