package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/static-cache/deploy"
)

const testConfig = `
port: 9090
cacheRoot: /var/cache/static
db: memory
hooksToken: s3cret
sites:
  - id: 1
    name: Main
    hostname: example.com
    baseUrl: https://example.com
    origin: http://127.0.0.1:8000
    originHost: example.com
  - id: 2
    name: Blog
    hostname: blog.example.com
    baseUrl: https://blog.example.com
settings:
  cachingEnabled: true
  actionPathPrefix: actions
  includedUris:
    - pattern: ".*"
  excludedUris:
    - pattern: "^admin"
      site: 1
warmer:
  enabled: true
  timeout: 10s
deploy:
  client: native
  credentials:
    username: deployer
    personalAccessToken: token
    name: Deploy Bot
    email: bot@example.com
  repositories:
    1:
      repositoryPath: $HOME/sites/main
      branch: gh-pages
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "static-cache.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestGetConfig(t *testing.T) {
	config, err := getConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "memory", config.DB)
	require.Len(t, config.Sites, 2)
	assert.Equal(t, "Main", config.Sites[0].Name)
	assert.Equal(t, "https://blog.example.com", config.Sites[1].BaseURL)
	assert.Equal(t, "example.com", config.Sites[0].OriginHost)
	assert.True(t, config.Settings.CachingEnabled)
	assert.Equal(t, 1, config.Settings.ExcludedURIs[0].Site)
	assert.Equal(t, 10*time.Second, config.Warmer.Timeout)
	assert.Equal(t, clientNative, config.Deploy.Client)
	assert.Equal(t, "gh-pages", config.Deploy.Repositories[1].Branch)
	assert.Equal(t, "Deploy Bot", config.Deploy.Credentials.CommitterName)

	origins, err := config.origins()
	require.NoError(t, err)
	require.Len(t, origins, 1)
	assert.Equal(t, "127.0.0.1:8000", origins[1].URL.Host)
	assert.Equal(t, "example.com", origins[1].Host)
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGetConfigMalformed(t *testing.T) {
	_, err := getConfig(writeConfig(t, "sites: ["))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		config, err := getConfig(writeConfig(t, testConfig))
		require.NoError(t, err)
		return config
	}

	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"blank credentials", func(c *Config) { c.Deploy.Credentials.PersonalAccessToken = "" }, "personalAccessToken"},
		{"bad email", func(c *Config) { c.Deploy.Credentials.CommitterEmail = "bot" }, "email"},
		{"unknown client", func(c *Config) { c.Deploy.Client = "svn" }, "client"},
		{"unknown repository site", func(c *Config) { c.Deploy.Repositories[3] = c.Deploy.Repositories[1] }, "repositories"},
		{"bad origin", func(c *Config) { c.Sites[0].Origin = "127.0.0.1:8000" }, "origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.edit(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
			assert.Equal(t, tt.field, errors.ToJSON(err).Context["field"])
		})
	}
}

func TestConfigValidateSites(t *testing.T) {
	config, err := getConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	config.Sites[1].ID = 1

	err = config.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestCredentialsNotRequiredWithoutRepositories(t *testing.T) {
	config, err := getConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	config.Deploy.Repositories = nil
	config.Deploy.Credentials = deploy.Credentials{}
	require.NoError(t, config.Validate())
}
