package siteuri

import (
	"fmt"
	"strconv"
	"strings"
)

// HomeURI is the URI stored for a site's home page.
// It maps to an empty path segment when turned into a file path or URL.
const HomeURI = "__home__"

const siteSeparator = ":"

// SiteURI identifies a cached page: a site and a path relative to the site root.
// It is a comparable value type and can be used as a map key.
type SiteURI struct {
	SiteID int
	URI    string
}

// New creates a SiteURI, normalizing an empty URI to the home page sentinel.
func New(siteID int, uri string) SiteURI {
	uri = strings.Trim(uri, "/")
	if uri == "" {
		uri = HomeURI
	}
	return SiteURI{SiteID: siteID, URI: uri}
}

// IsHome reports whether the SiteURI points at the site's home page.
func (s SiteURI) IsHome() bool {
	return s.URI == HomeURI || strings.Trim(s.URI, "/") == ""
}

// Path returns the URI as a relative path segment.
// The home page sentinel maps to an empty string.
func (s SiteURI) Path() string {
	if s.IsHome() {
		return ""
	}
	return strings.Trim(s.URI, "/")
}

// String returns the "<siteID>:<uri>" form accepted by Parse.
func (s SiteURI) String() string {
	return strconv.Itoa(s.SiteID) + siteSeparator + s.URI
}

// Parse parses the "<siteID>:<uri>" representation of a SiteURI.
// A value without a site separator is rejected.
func Parse(value string) (SiteURI, error) {
	site, uri, found := strings.Cut(value, siteSeparator)
	if !found {
		return SiteURI{}, fmt.Errorf("malformed site uri: %q", value)
	}
	siteID, err := strconv.Atoi(site)
	if err != nil {
		return SiteURI{}, fmt.Errorf("malformed site id in %q: %w", value, err)
	}
	return New(siteID, uri), nil
}

// Group holds the SiteURIs belonging to one site.
type Group struct {
	SiteID   int
	SiteURIs []SiteURI
}

// GroupBySite groups SiteURIs by site.
// Groups are returned in order of the first appearance of each site,
// and URIs keep their input order within a group.
func GroupBySite(siteURIs []SiteURI) []Group {
	groups := make([]Group, 0)
	index := make(map[int]int)
	for _, siteURI := range siteURIs {
		i, ok := index[siteURI.SiteID]
		if !ok {
			i = len(groups)
			index[siteURI.SiteID] = i
			groups = append(groups, Group{SiteID: siteURI.SiteID})
		}
		groups[i].SiteURIs = append(groups[i].SiteURIs, siteURI)
	}
	return groups
}
