package deploy

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"
)

const (
	DefaultBranch        = "master"
	DefaultRemote        = "origin"
	DefaultCommitMessage = "auto commit"
)

// RepositoryConfig is the git repository a site is deployed to.
type RepositoryConfig struct {
	// Path of the local working copy. Environment variables are expanded.
	RepositoryPath string `yaml:"repositoryPath"`
	Branch         string `yaml:"branch"`
	Remote         string `yaml:"remote"`
	CommitMessage  string `yaml:"commitMessage"`
}

// WithDefaults returns the config with empty fields set to their defaults.
func (c RepositoryConfig) WithDefaults() RepositoryConfig {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.CommitMessage == "" {
		c.CommitMessage = DefaultCommitMessage
	}
	return c
}

// Path returns the cleaned repository path with environment variables expanded.
// It is empty if no path is configured.
func (c RepositoryConfig) Path() string {
	path := strings.TrimSpace(os.ExpandEnv(c.RepositoryPath))
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// Credentials are used to commit and to push over HTTPS.
type Credentials struct {
	Username            string `yaml:"username"`
	PersonalAccessToken string `yaml:"personalAccessToken"`
	CommitterName       string `yaml:"name"`
	CommitterEmail      string `yaml:"email"`
}

// Validate reports the first missing or malformed field.
func (c Credentials) Validate() error {
	required := []struct {
		field, value string
	}{
		{"username", c.Username},
		{"personalAccessToken", c.PersonalAccessToken},
		{"name", c.CommitterName},
		{"email", c.CommitterEmail},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.WithContext(
				errors.Newf(errors.CodeInvalidConfig, "%s cannot be blank", r.field),
				"field", r.field)
		}
	}
	addr, err := mail.ParseAddress(c.CommitterEmail)
	if err != nil || addr.Address != c.CommitterEmail {
		return errors.WithContext(
			errors.Newf(errors.CodeInvalidConfig, "%q is not a valid email address", c.CommitterEmail),
			"field", "email")
	}
	return nil
}
