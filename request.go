package staticcache

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	urirules "github.com/always-cache/static-cache/pkg/uri-rules"
)

// SettingsConfig is the cacheability section of the configuration file.
type SettingsConfig struct {
	CachingEnabled bool `yaml:"cachingEnabled"`
	// Requests whose path starts with this prefix are actions and never cached.
	ActionPathPrefix string         `yaml:"actionPathPrefix"`
	IncludedURIs     urirules.Rules `yaml:"includedUris"`
	ExcludedURIs     urirules.Rules `yaml:"excludedUris"`
}

// Settings are the compiled cacheability settings.
type Settings struct {
	CachingEnabled   bool
	ActionPathPrefix string
	Included         urirules.Matcher
	Excluded         urirules.Matcher
}

// Compile compiles the URI rules. Invalid patterns are logged and ignored.
func (c SettingsConfig) Compile(logger *zerolog.Logger) Settings {
	return Settings{
		CachingEnabled:   c.CachingEnabled,
		ActionPathPrefix: strings.Trim(c.ActionPathPrefix, "/"),
		Included:         c.IncludedURIs.CompileWithLogger(logger),
		Excluded:         c.ExcludedURIs.CompileWithLogger(logger),
	}
}

// Request is everything the cacheability decision depends on.
// The decision is made once and remembered for the lifetime of the value.
type Request struct {
	SiteID int
	// Request path without leading and trailing slashes.
	Path string

	CachingEnabled bool
	SiteRequest    bool
	Get            bool
	Action         bool
	LivePreview    bool
	Success        bool
	// Pages are stored by path only, so requests with a query string are never stored.
	Query bool

	Excluded urirules.Matcher
	Included urirules.Matcher

	decided   bool
	cacheable bool
}

// NewRequest derives the cacheability inputs from an HTTP request and the
// status the renderer responded with. A zero siteID means the request does
// not belong to a configured site.
func NewRequest(r *http.Request, siteID int, status int, settings Settings) *Request {
	path := strings.Trim(r.URL.Path, "/")
	query := r.URL.Query()
	action := query.Has("action")
	if settings.ActionPathPrefix != "" &&
		(path == settings.ActionPathPrefix || strings.HasPrefix(path, settings.ActionPathPrefix+"/")) {
		action = true
	}
	return &Request{
		SiteID:         siteID,
		Path:           path,
		CachingEnabled: settings.CachingEnabled,
		SiteRequest:    siteID != 0,
		Get:            r.Method == http.MethodGet,
		Action:         action,
		LivePreview:    r.Header.Get("X-Live-Preview") != "" || query.Has("x-live-preview"),
		Success:        status == http.StatusOK,
		Query:          r.URL.RawQuery != "",
		Excluded:       settings.Excluded,
		Included:       settings.Included,
	}
}

// IsCacheable reports whether the response to the request may be stored.
// Excluded URIs take priority over included ones and a path that matches
// no included URI is never cached.
func (r *Request) IsCacheable() bool {
	if !r.decided {
		r.cacheable = r.isCacheable()
		r.decided = true
	}
	return r.cacheable
}

func (r *Request) isCacheable() bool {
	if !r.CachingEnabled || !r.SiteRequest || !r.Get || r.Action || r.LivePreview || !r.Success || r.Query {
		return false
	}
	if r.Excluded.Match(r.SiteID, r.Path) {
		return false
	}
	return r.Included.Match(r.SiteID, r.Path)
}
