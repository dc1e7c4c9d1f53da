package staticcache

import (
	"context"
	"errors"

	"github.com/always-cache/static-cache/pkg/drivers"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

const (
	regenerateDescription = "Warming cache"
	deployDescription     = "Deploying to remote"
)

// RegenerateJob warms invalidated pages and then hands them to the deployers.
type RegenerateJob struct {
	SiteURIs []siteuri.SiteURI
	// Absolute URLs of SiteURIs, for queue observers.
	URLs    []string
	drivers *drivers.Registry
}

func (j *RegenerateJob) Run(ctx context.Context, progress jobqueue.ProgressFunc) error {
	var errs []error
	for _, w := range j.drivers.Warmers() {
		if err := w.WarmURIs(ctx, j.SiteURIs, progress); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range j.drivers.Deployers() {
		if err := d.DeployURIs(ctx, j.SiteURIs, progress); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeployJob pushes cached pages to every deployer.
type DeployJob struct {
	SiteURIs []siteuri.SiteURI
	drivers  *drivers.Registry
}

func (j *DeployJob) Run(ctx context.Context, progress jobqueue.ProgressFunc) error {
	var errs []error
	for _, d := range j.drivers.Deployers() {
		if err := d.DeployURIs(ctx, j.SiteURIs, progress); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateElement deletes every cached page the element contributed to
// and queues a single job regenerating them.
func (s *Service) InvalidateElement(ctx context.Context, elementID int64) error {
	return s.InvalidateElements(ctx, elementID)
}

// InvalidateElements invalidates the pages of several changed elements with one regeneration job.
// An index failure for one element does not stop the others: every page already
// cleared from the index is still deleted, purged and regenerated.
func (s *Service) InvalidateElements(ctx context.Context, elementIDs ...int64) error {
	var errs []error
	siteURIs := make([]siteuri.SiteURI, 0)
	seen := make(map[siteuri.SiteURI]bool)
	for _, id := range elementIDs {
		uris, err := s.index.ClearAndReturnURIs(id)
		if err != nil {
			s.log.Error().Err(err).Int64("element", id).Msg("Could not look up cached pages")
			errs = append(errs, err)
			continue
		}
		for _, siteURI := range uris {
			if !seen[siteURI] {
				seen[siteURI] = true
				siteURIs = append(siteURIs, siteURI)
			}
		}
	}
	if len(siteURIs) == 0 {
		s.log.Trace().Ints64("elements", elementIDs).Msg("No cached pages to invalidate")
		return errors.Join(errs...)
	}

	for _, siteURI := range siteURIs {
		if err := s.store.Delete(siteURI); err != nil {
			s.log.Error().Err(err).Str("uri", siteURI.String()).Msg("Could not delete cached page")
		}
	}
	for _, p := range s.drivers.Purgers() {
		if err := p.PurgeURIs(ctx, siteURIs); err != nil {
			s.log.Error().Err(err).Msg("Could not purge pages")
		}
	}
	s.log.Debug().Ints64("elements", elementIDs).Int("pages", len(siteURIs)).Msg("Invalidated cached pages")

	if s.settings.CachingEnabled {
		if err := s.enqueueRegenerate(siteURIs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) enqueueRegenerate(siteURIs []siteuri.SiteURI) error {
	urls := make([]string, 0, len(siteURIs))
	for _, siteURI := range siteURIs {
		url, err := s.sites.URL(siteURI)
		if err != nil {
			s.log.Warn().Err(err).Str("uri", siteURI.String()).Msg("Cannot resolve page URL")
			continue
		}
		urls = append(urls, url)
	}
	job := &RegenerateJob{SiteURIs: siteURIs, URLs: urls, drivers: s.drivers}
	return s.queue.Push(job, regenerateDescription, 0)
}

// ClearAll empties the element index, deletes every cached page and purges all purgers.
func (s *Service) ClearAll(ctx context.Context) error {
	var errs []error
	if err := s.index.Clear(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.PurgeAll(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range s.drivers.Purgers() {
		if err := p.PurgeAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not clear cache completely")
	} else {
		s.log.Info().Msg("Cleared cache")
	}
	return err
}

// Deploy queues a deploy of the given pages.
func (s *Service) Deploy(siteURIs []siteuri.SiteURI) error {
	if len(siteURIs) == 0 {
		return nil
	}
	return s.queue.Push(&DeployJob{SiteURIs: siteURIs, drivers: s.drivers}, deployDescription, 0)
}

// DeployNow runs the deployers synchronously.
func (s *Service) DeployNow(ctx context.Context, siteURIs []siteuri.SiteURI, progress jobqueue.ProgressFunc) error {
	return (&DeployJob{SiteURIs: siteURIs, drivers: s.drivers}).Run(ctx, progress)
}

// CachedURIs returns every page currently stored, site by site.
func (s *Service) CachedURIs() ([]siteuri.SiteURI, error) {
	all := make([]siteuri.SiteURI, 0)
	for _, site := range s.sites {
		uris, err := s.store.List(site.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, uris...)
	}
	return all, nil
}
