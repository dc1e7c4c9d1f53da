package sites

import (
	"fmt"
	"strings"

	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// Site is a configured site served by the renderer.
type Site struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Hostname string `yaml:"hostname"`
	// Base URL used when building regeneration URLs, e.g. https://example.com
	BaseURL string `yaml:"baseUrl"`
}

// Sites is the ordered list of configured sites.
type Sites []Site

// Get returns the site with the given id.
func (s Sites) Get(id int) (Site, bool) {
	for _, site := range s {
		if site.ID == id {
			return site, true
		}
	}
	return Site{}, false
}

// Name returns the display name for a site, falling back to its id.
func (s Sites) Name(id int) string {
	if site, ok := s.Get(id); ok && site.Name != "" {
		return site.Name
	}
	return fmt.Sprintf("site %d", id)
}

// URL returns the absolute URL of a cached page.
// The home page maps to the base URL with a trailing slash.
func (s Sites) URL(siteURI siteuri.SiteURI) (string, error) {
	site, ok := s.Get(siteURI.SiteID)
	if !ok {
		return "", fmt.Errorf("unknown site %d", siteURI.SiteID)
	}
	return strings.TrimRight(site.BaseURL, "/") + "/" + siteURI.Path(), nil
}

// Validate checks that ids and hostnames are set and unique.
func (s Sites) Validate() error {
	seen := make(map[int]bool, len(s))
	for _, site := range s {
		if site.ID == 0 {
			return fmt.Errorf("site %q: id must be non-zero", site.Name)
		}
		if seen[site.ID] {
			return fmt.Errorf("site %d: duplicate id", site.ID)
		}
		seen[site.ID] = true
		if site.Hostname == "" {
			return fmt.Errorf("site %d: hostname missing", site.ID)
		}
		if strings.ContainsAny(site.Hostname, "/\\") || site.Hostname == "." || site.Hostname == ".." {
			return fmt.Errorf("site %d: invalid hostname %q", site.ID, site.Hostname)
		}
	}
	return nil
}
