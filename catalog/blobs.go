package catalog

import "github.com/ngdp/keg/psv"

// BlobRow is one row of the Blobs or BGDL auxiliary catalog tables. Both
// share the same (Region, BuildConfig, CDNConfig) shape as Versions but
// carry no BuildID/VersionsName/ProductConfig; the core treats them as
// optional catalogs, skipped silently when absent.
type BlobRow struct {
	Region      string
	BuildConfig string
	CDNConfig   string
}

// Blobs is a parsed Blobs or BGDL catalog table.
type Blobs struct {
	Rows []BlobRow
}

// ParseBlobs builds a typed Blobs/BGDL view from a parsed PSV document.
func ParseBlobs(doc *psv.Document) (*Blobs, error) {
	b := &Blobs{}
	for row := range doc.RowsSeq() {
		b.Rows = append(b.Rows, BlobRow{
			Region:      col(row, "Region"),
			BuildConfig: col(row, "BuildConfig"),
			CDNConfig:   col(row, "CDNConfig"),
		})
	}
	return b, nil
}
