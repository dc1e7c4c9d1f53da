package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	staticcache "github.com/always-cache/static-cache"
	"github.com/always-cache/static-cache/deploy"
	"github.com/always-cache/static-cache/pkg/sites"
)

const (
	clientCLI    = "cli"
	clientNative = "native"
)

type Config struct {
	Port int `yaml:"port"`
	// Directory the static pages are written to.
	CacheRoot string `yaml:"cacheRoot"`
	// Element index database file, "memory" for an in-memory index.
	DB string `yaml:"db"`
	// Bearer token required by the change hooks. Hooks are open if empty.
	HooksToken string                     `yaml:"hooksToken"`
	Sites      []SiteConfig               `yaml:"sites"`
	Settings   staticcache.SettingsConfig `yaml:"settings"`
	Warmer     WarmerConfig               `yaml:"warmer"`
	Deploy     DeployConfig               `yaml:"deploy"`
}

type SiteConfig struct {
	sites.Site `yaml:",inline"`
	// URL of the server rendering the site. Required to serve the site.
	Origin     string `yaml:"origin"`
	OriginHost string `yaml:"originHost"`
}

type WarmerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type DeployConfig struct {
	// Git client, "cli" (default) or "native".
	Client       string                          `yaml:"client"`
	Credentials  deploy.Credentials              `yaml:"credentials"`
	Repositories map[int]deploy.RepositoryConfig `yaml:"repositories"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, errors.Wrap(err, errors.CodeInvalidConfig, "cannot parse "+filename)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if err := c.sites().Validate(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid sites")
	}
	for _, site := range c.Sites {
		if site.Origin == "" {
			continue
		}
		if u, err := url.Parse(site.Origin); err != nil || u.Scheme == "" || u.Host == "" {
			return errors.WithContext(
				errors.Newf(errors.CodeInvalidConfig, "invalid origin %q of site %d", site.Origin, site.ID),
				"field", "origin")
		}
	}
	for siteID := range c.Deploy.Repositories {
		if _, ok := c.sites().Get(siteID); !ok {
			return errors.WithContext(
				errors.Newf(errors.CodeInvalidConfig, "repository configured for unknown site %d", siteID),
				"field", "repositories")
		}
	}
	switch c.Deploy.Client {
	case "", clientCLI, clientNative:
	default:
		return errors.WithContext(
			errors.Newf(errors.CodeInvalidConfig, "unknown git client %q", c.Deploy.Client),
			"field", "client")
	}
	if len(c.Deploy.Repositories) > 0 {
		return c.Deploy.Credentials.Validate()
	}
	return nil
}

func (c Config) sites() sites.Sites {
	list := make(sites.Sites, 0, len(c.Sites))
	for _, site := range c.Sites {
		list = append(list, site.Site)
	}
	return list
}

func (c Config) origins() (map[int]staticcache.Origin, error) {
	origins := make(map[int]staticcache.Origin)
	for _, site := range c.Sites {
		if site.Origin == "" {
			continue
		}
		u, err := url.Parse(site.Origin)
		if err != nil {
			return nil, fmt.Errorf("origin of site %d: %w", site.ID, err)
		}
		origins[site.ID] = staticcache.Origin{URL: *u, Host: site.OriginHost}
	}
	return origins, nil
}
