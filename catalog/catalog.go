// Package catalog provides typed views over the PSV catalog tables
// (versions, cdns, bgdl, blobs) and version-selector resolution.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ngdp/keg/psv"
)

// col returns a row's value for name, or "" if the column is absent.
func col(row psv.Row, name string) string {
	v, _ := row.Get(name)
	return v
}

// VersionRow is one row of the Versions catalog table.
type VersionRow struct {
	Region        string
	BuildConfig   string
	CDNConfig     string
	KeyRing       string
	BuildID       string
	VersionsName  string
	ProductConfig string
}

// Versions is the parsed Versions catalog table.
type Versions struct {
	Rows []VersionRow
}

// ParseVersions builds a typed Versions view from a parsed PSV document.
func ParseVersions(doc *psv.Document) (*Versions, error) {
	v := &Versions{}
	for row := range doc.RowsSeq() {
		v.Rows = append(v.Rows, VersionRow{
			Region:        col(row, "Region"),
			BuildConfig:   col(row, "BuildConfig"),
			CDNConfig:     col(row, "CDNConfig"),
			KeyRing:       col(row, "KeyRing"),
			BuildID:       col(row, "BuildID"),
			VersionsName:  col(row, "VersionsName"),
			ProductConfig: col(row, "ProductConfig"),
		})
	}
	return v, nil
}

// ErrAmbiguous is returned when a version query matches more than one
// distinct (build_config, cdn_config) pair.
type ErrAmbiguous struct {
	Pairs [][2]string // distinct (build_config, cdn_config) pairs that matched
}

func (e *ErrAmbiguous) Error() string {
	var pairs []string
	for _, p := range e.Pairs {
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", p[0], p[1]))
	}
	return fmt.Sprintf("catalog: ambiguous version query, matched %d distinct build: %s", len(e.Pairs), strings.Join(pairs, ", "))
}

// ErrNoMatch is returned when a version query matches no rows.
var ErrNoMatch = fmt.Errorf("catalog: no version matched query")

// Selector names the field a version query matches by.
type Selector int

const (
	// ByBuildName matches VersionsName exactly.
	ByBuildName Selector = iota
	// ByBuildID matches BuildID exactly.
	ByBuildID
	// ByBuildConfig matches BuildConfig exactly.
	ByBuildConfig
)

// Resolve returns the single row matching sel/value, or ErrAmbiguous if
// more than one distinct (build_config, cdn_config) pair matches, or
// ErrNoMatch if none do.
func (v *Versions) Resolve(sel Selector, value string) (VersionRow, error) {
	var matches []VersionRow
	for _, row := range v.Rows {
		var field string
		switch sel {
		case ByBuildName:
			field = row.VersionsName
		case ByBuildID:
			field = row.BuildID
		case ByBuildConfig:
			field = row.BuildConfig
		}
		if field == value {
			matches = append(matches, row)
		}
	}

	if len(matches) == 0 {
		return VersionRow{}, ErrNoMatch
	}

	seen := map[[2]string]bool{}
	var pairs [][2]string
	for _, m := range matches {
		pair := [2]string{m.BuildConfig, m.CDNConfig}
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}
	if len(pairs) > 1 {
		return VersionRow{}, &ErrAmbiguous{Pairs: pairs}
	}
	return matches[0], nil
}

// BuildIDInt parses BuildID as an integer, for callers that need it
// numerically (e.g. for display or comparison); returns 0 if unparseable.
func (r VersionRow) BuildIDInt() int64 {
	n, _ := strconv.ParseInt(r.BuildID, 10, 64)
	return n
}
