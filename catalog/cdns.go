package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ngdp/keg/psv"
)

// CDNRow is one row of the CDNs catalog table.
type CDNRow struct {
	Name       string
	Path       string
	Hosts      []string
	Servers    []string
	ConfigPath string
}

// CDNs is the parsed CDNs catalog table.
type CDNs struct {
	Rows []CDNRow
}

// ParseCDNs builds a typed CDNs view from a parsed PSV document.
func ParseCDNs(doc *psv.Document) (*CDNs, error) {
	c := &CDNs{}
	for row := range doc.RowsSeq() {
		c.Rows = append(c.Rows, CDNRow{
			Name:       col(row, "Name"),
			Path:       col(row, "Path"),
			Hosts:      strings.Fields(col(row, "Hosts")),
			Servers:    strings.Fields(col(row, "Servers")),
			ConfigPath: col(row, "ConfigPath"),
		})
	}
	return c, nil
}

// ErrNoServers is returned when a selected CDN advertises no servers.
var ErrNoServers = fmt.Errorf("catalog: selected cdn has no servers")

// ErrInvalidForcedURL is returned when a forced CDN URL is missing a
// scheme, host, or path.
var ErrInvalidForcedURL = fmt.Errorf("catalog: forced cdn url must have scheme, host, and path")

// Selected is a resolved CDN endpoint: one base server URL plus the
// storage path prefix objects live under.
type Selected struct {
	BaseURL string // scheme://host, no trailing slash
	Path    string // cdn.path, the prefix before {config,data,patch}/...
}

// SelectCDN picks a CDN endpoint: a forced URL wins outright; failing
// that, the first case-insensitive name match from preferred, in order;
// failing that, the first row in the catalog.
func (c *CDNs) SelectCDN(forcedURL string, preferred []string) (Selected, error) {
	if forcedURL != "" {
		u, err := url.Parse(forcedURL)
		if err != nil {
			return Selected{}, fmt.Errorf("%w: %v", ErrInvalidForcedURL, err)
		}
		if u.Scheme == "" || u.Host == "" || u.Path == "" {
			return Selected{}, ErrInvalidForcedURL
		}
		return Selected{BaseURL: u.Scheme + "://" + u.Host, Path: strings.Trim(u.Path, "/")}, nil
	}

	for _, name := range preferred {
		for _, row := range c.Rows {
			if strings.EqualFold(row.Name, name) {
				return selectedFromRow(row)
			}
		}
	}

	if len(c.Rows) == 0 {
		return Selected{}, fmt.Errorf("catalog: no cdns available")
	}
	return selectedFromRow(c.Rows[0])
}

func selectedFromRow(row CDNRow) (Selected, error) {
	if len(row.Servers) == 0 {
		return Selected{}, ErrNoServers
	}
	return Selected{BaseURL: strings.TrimRight(row.Servers[0], "/"), Path: row.Path}, nil
}
