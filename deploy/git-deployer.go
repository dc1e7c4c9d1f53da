package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"

	"github.com/always-cache/static-cache/pkg/drivers"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
	"github.com/always-cache/static-cache/pkg/sites"
)

const progressLabel = "Deploying %d of %d pages."

// ArtifactReader reads cached pages.
type ArtifactReader interface {
	Read(siteURI siteuri.SiteURI) ([]byte, bool, error)
}

type Config struct {
	Sites sites.Sites
	// Repository per site id. Sites without an entry are not deployed.
	Repositories map[int]RepositoryConfig
	Credentials  Credentials
	Store        ArtifactReader
	Opener       Opener
	// Optional function returning the filesystem of a working copy.
	// By default the path must be an existing directory and an OS filesystem rooted at it is used.
	Filesystem func(path string) (billy.Filesystem, error)
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

// GitDeployer copies cached pages into per-site git working copies,
// commits them and pushes them to a remote.
type GitDeployer struct {
	sites        sites.Sites
	repositories map[int]RepositoryConfig
	credentials  Credentials
	store        ArtifactReader
	opener       Opener
	filesystem   func(path string) (billy.Filesystem, error)
	log          zerolog.Logger
}

func NewGitDeployer(config Config) *GitDeployer {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	filesystem := config.Filesystem
	if filesystem == nil {
		filesystem = osFilesystem
	}
	return &GitDeployer{
		sites:        config.Sites,
		repositories: config.Repositories,
		credentials:  config.Credentials,
		store:        config.Store,
		opener:       config.Opener,
		filesystem:   filesystem,
		log:          logger.With().Str("component", "git-deployer").Logger(),
	}
}

type sitePlan struct {
	siteID   int
	name     string
	repo     RepositoryConfig
	path     string
	fs       billy.Filesystem
	siteURIs []siteuri.SiteURI
}

// DeployURIs deploys the pages to the repositories of their sites.
// Sites without a repository or with an unwritable repository path are skipped.
// A failing site does not stop the remaining sites; all failures are returned together.
func (d *GitDeployer) DeployURIs(ctx context.Context, siteURIs []siteuri.SiteURI, progress jobqueue.ProgressFunc) error {
	plans, total := d.plan(siteURIs)

	count := 0
	var errs []error
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		log := d.log.With().Str("site", plan.name).Str("repository", plan.path).Logger()
		if err := d.deploySite(ctx, plan, &count, total, progress, log); err != nil {
			log.Error().Err(err).Msg("Deploy failed")
			errs = append(errs, fmt.Errorf("%s: %w", plan.name, err))
			continue
		}
		log.Info().Int("pages", len(plan.siteURIs)).Msg("Deployed")
	}
	return errors.Join(errs...)
}

// plan resolves the eligible sites and the total number of pages to deploy.
func (d *GitDeployer) plan(siteURIs []siteuri.SiteURI) ([]sitePlan, int) {
	plans := make([]sitePlan, 0)
	total := 0
	for _, group := range siteuri.GroupBySite(siteURIs) {
		name := d.sites.Name(group.SiteID)
		repo, ok := d.repositories[group.SiteID]
		if !ok || repo.Path() == "" {
			d.log.Trace().Str("site", name).Msg("No repository configured")
			continue
		}
		path := repo.Path()
		fs, err := d.filesystem(path)
		if err != nil || !writable(fs) {
			d.log.Warn().Str("site", name).Str("repository", path).Msg("Repository path is not writable")
			continue
		}
		plans = append(plans, sitePlan{
			siteID:   group.SiteID,
			name:     name,
			repo:     repo.WithDefaults(),
			path:     path,
			fs:       fs,
			siteURIs: group.SiteURIs,
		})
		total += len(group.SiteURIs)
	}
	return plans, total
}

func (d *GitDeployer) deploySite(ctx context.Context, plan sitePlan, count *int, total int, progress jobqueue.ProgressFunc, log zerolog.Logger) error {
	for _, siteURI := range plan.siteURIs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.copyPage(plan.fs, siteURI); err != nil {
			// a page that cannot be copied keeps its previous version in the repository
			log.Warn().Err(err).Str("uri", siteURI.String()).Msg("Could not copy page")
		}
		*count++
		if progress != nil {
			progress(*count, total, fmt.Sprintf(progressLabel, *count, total))
		}
	}

	wc, err := d.opener.Open(ctx, plan.path)
	if err != nil {
		return fmt.Errorf("open working copy: %w", err)
	}
	if err := wc.Checkout(ctx, plan.repo.Branch); err != nil {
		return fmt.Errorf("checkout %s: %w", plan.repo.Branch, err)
	}
	if err := wc.Add(ctx, "*"); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	if err := injectCredentials(ctx, wc, plan.repo.Remote, d.credentials); err != nil {
		return err
	}
	changed, err := wc.HasChanges(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if changed {
		if err := wc.Commit(ctx, plan.repo.CommitMessage); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	} else {
		log.Debug().Msg("Nothing to commit")
	}
	if err := wc.Push(ctx, plan.repo.Remote); err != nil {
		return fmt.Errorf("push to %s: %w", plan.repo.Remote, err)
	}
	return nil
}

// copyPage writes the cached page into the working copy.
// Missing pages are skipped and unchanged files are not rewritten.
func (d *GitDeployer) copyPage(fs billy.Filesystem, siteURI siteuri.SiteURI) error {
	content, ok, err := d.store.Read(siteURI)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	name := filepath.Join(filepath.FromSlash(siteURI.Path()), "index.html")
	if existing, err := util.ReadFile(fs, name); err == nil && xxhash.Sum64(existing) == xxhash.Sum64(content) {
		return nil
	}
	if err := fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return util.WriteFile(fs, name, content, 0o644)
}

func osFilesystem(path string) (billy.Filesystem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return osfs.New(path), nil
}

func writable(fs billy.Filesystem) bool {
	f, err := fs.TempFile(".", ".static-cache-")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	fs.Remove(name)
	return true
}

// Test checks that every configured repository can be checked out and fetched
// with the configured credentials. Failures are reported per site, never returned.
func (d *GitDeployer) Test(ctx context.Context) (bool, []drivers.Diagnostic) {
	siteIDs := make([]int, 0, len(d.repositories))
	for siteID := range d.repositories {
		siteIDs = append(siteIDs, siteID)
	}
	sort.Ints(siteIDs)

	diagnostics := make([]drivers.Diagnostic, 0)
	for _, siteID := range siteIDs {
		repo := d.repositories[siteID].WithDefaults()
		if repo.Path() == "" {
			continue
		}
		if err := d.testRepository(ctx, repo); err != nil {
			diagnostics = append(diagnostics, drivers.Diagnostic{SiteName: d.sites.Name(siteID), Message: err.Error()})
		}
	}
	return len(diagnostics) == 0, diagnostics
}

func (d *GitDeployer) testRepository(ctx context.Context, repo RepositoryConfig) error {
	wc, err := d.opener.Open(ctx, repo.Path())
	if err != nil {
		return err
	}
	if err := wc.Checkout(ctx, repo.Branch); err != nil {
		return err
	}
	if err := injectCredentials(ctx, wc, repo.Remote, d.credentials); err != nil {
		return err
	}
	return wc.Fetch(ctx, repo.Remote)
}
