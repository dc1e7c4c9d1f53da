package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"

	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
	"github.com/always-cache/static-cache/pkg/sites"
)

const indexFile = "index.html"

// WriteStatus is the outcome of a FileStore write.
type WriteStatus int

const (
	// Written means the artifact was replaced on disk.
	Written WriteStatus = iota
	// Skipped means nothing was written, e.g. when no cache root is configured.
	Skipped
	// Failed means the write was attempted but did not complete. Err is set.
	Failed
)

func (s WriteStatus) String() string {
	switch s {
	case Written:
		return "written"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// WriteResult reports what Write did with a single artifact.
type WriteResult struct {
	Status WriteStatus
	Path   string
	Err    error
}

type FileStoreConfig struct {
	// Absolute directory where artifacts are stored.
	// An empty root disables the store.
	Root string
	// Filesystem rooted at Root. An OS filesystem is used if nil.
	Filesystem billy.Filesystem
	Sites      sites.Sites
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

// FileStore keeps rendered pages as <root>/<hostname>/<uri>/index.html.
type FileStore struct {
	root  string
	fs    billy.Filesystem
	sites sites.Sites
	log   zerolog.Logger
	now   func() time.Time
}

func NewFileStore(config FileStoreConfig) *FileStore {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	fs := config.Filesystem
	if fs == nil && config.Root != "" {
		fs = osfs.New(config.Root)
	}
	return &FileStore{
		root:  config.Root,
		fs:    fs,
		sites: config.Sites,
		log:   logger.With().Str("component", "file-store").Logger(),
		now:   time.Now,
	}
}

// Root returns the configured cache root.
func (s *FileStore) Root() string {
	return s.root
}

// PathFor returns the absolute file path for a cached page,
// or an empty string if the store has no root or the site is unknown.
func (s *FileStore) PathFor(siteURI siteuri.SiteURI) string {
	rel, ok := s.relPath(siteURI)
	if !ok {
		return ""
	}
	return filepath.Join(s.root, rel)
}

func (s *FileStore) relPath(siteURI siteuri.SiteURI) (string, bool) {
	if s.root == "" || s.fs == nil {
		return "", false
	}
	site, ok := s.sites.Get(siteURI.SiteID)
	if !ok {
		return "", false
	}
	return filepath.Join(site.Hostname, filepath.FromSlash(siteURI.Path()), indexFile), true
}

// Marker returns the comment appended to every stored page.
func Marker(at time.Time) string {
	return fmt.Sprintf("<!-- Cached by static-cache %s -->", at.UTC().Format(time.RFC3339))
}

// Write stores the page content followed by the cache marker.
// The file is written to a temporary name in the target directory
// and then renamed into place, so readers never see a partial page.
func (s *FileStore) Write(siteURI siteuri.SiteURI, content []byte) WriteResult {
	rel, ok := s.relPath(siteURI)
	if !ok {
		return WriteResult{Status: Skipped}
	}
	path := filepath.Join(s.root, rel)

	body := make([]byte, 0, len(content)+64)
	body = append(body, content...)
	body = append(body, '\n')
	body = append(body, Marker(s.now())...)

	if err := s.writeAtomic(rel, body); err != nil {
		return WriteResult{Status: Failed, Path: path, Err: err}
	}
	s.log.Trace().Str("path", path).Msg("Wrote cached page")
	return WriteResult{Status: Written, Path: path}
}

func (s *FileStore) writeAtomic(rel string, body []byte) error {
	dir := filepath.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := s.fs.TempFile(dir, "."+indexFile+"-")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, rel); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

// Read returns the stored page. The boolean is false if nothing is stored.
func (s *FileStore) Read(siteURI siteuri.SiteURI) ([]byte, bool, error) {
	rel, ok := s.relPath(siteURI)
	if !ok {
		return nil, false, nil
	}
	b, err := util.ReadFile(s.fs, rel)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Delete removes the stored page. A missing page is not an error.
func (s *FileStore) Delete(siteURI siteuri.SiteURI) error {
	rel, ok := s.relPath(siteURI)
	if !ok {
		return nil
	}
	if err := s.fs.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", filepath.Join(s.root, rel), err)
	}
	return nil
}

// List returns every page stored for a site, in lexical path order.
func (s *FileStore) List(siteID int) ([]siteuri.SiteURI, error) {
	siteURIs := make([]siteuri.SiteURI, 0)
	if s.root == "" || s.fs == nil {
		return siteURIs, nil
	}
	site, ok := s.sites.Get(siteID)
	if !ok {
		return siteURIs, nil
	}
	err := util.Walk(s.fs, site.Hostname, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || info.Name() != indexFile {
			return nil
		}
		rel, err := filepath.Rel(site.Hostname, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		siteURIs = append(siteURIs, siteuri.New(siteID, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", site.Hostname, err)
	}
	return siteURIs, nil
}

// Purge removes every stored page of a site.
func (s *FileStore) Purge(siteID int) error {
	if s.root == "" || s.fs == nil {
		return nil
	}
	site, ok := s.sites.Get(siteID)
	if !ok {
		return nil
	}
	if err := util.RemoveAll(s.fs, site.Hostname); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("purge %s: %w", site.Hostname, err)
	}
	s.log.Debug().Str("host", site.Hostname).Msg("Purged site cache")
	return nil
}

// PurgeAll removes the cached pages of every configured site.
func (s *FileStore) PurgeAll() error {
	var errs []error
	for _, site := range s.sites {
		if err := s.Purge(site.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
