package staticcache

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/always-cache/static-cache/cache"
	"github.com/always-cache/static-cache/pkg/drivers"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
	"github.com/always-cache/static-cache/pkg/sites"
)

type Config struct {
	Sites sites.Sites
	// Storage for rendered pages.
	Store *cache.FileStore
	// Records which elements each cached page depends on.
	Index cache.ElementIndex
	// Purgers, warmers and deployers. An empty registry is used if nil.
	Drivers *drivers.Registry
	// Queue for regeneration and deploy jobs. An in-process worker is started if nil.
	Queue    jobqueue.Queue
	Settings Settings
	// Optional function mapping a request to a site id.
	// By default the request host is matched against the site hostnames.
	SiteResolver func(*http.Request) (int, bool)
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

type Service struct {
	sites        sites.Sites
	store        *cache.FileStore
	index        cache.ElementIndex
	drivers      *drivers.Registry
	queue        jobqueue.Queue
	settings     Settings
	siteResolver func(*http.Request) (int, bool)
	log          zerolog.Logger
}

// New creates the cache service.
func New(config Config) *Service {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	s := &Service{
		sites:        config.Sites,
		store:        config.Store,
		index:        config.Index,
		drivers:      config.Drivers,
		queue:        config.Queue,
		settings:     config.Settings,
		siteResolver: config.SiteResolver,
		log:          logger,
	}
	if s.store == nil {
		s.store = cache.NewFileStore(cache.FileStoreConfig{Sites: config.Sites, Logger: &logger})
	}
	if s.index == nil {
		s.index = cache.NewMemIndex()
	}
	if s.drivers == nil {
		s.drivers = drivers.NewRegistry()
	}
	if s.queue == nil {
		s.queue = jobqueue.NewWorker(jobqueue.WorkerConfig{Logger: &logger})
	}
	if s.siteResolver == nil {
		s.siteResolver = s.siteByHost
	}
	return s
}

func (s *Service) Sites() sites.Sites {
	return s.sites
}

func (s *Service) Drivers() *drivers.Registry {
	return s.drivers
}

func (s *Service) siteByHost(r *http.Request) (int, bool) {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	for _, site := range s.sites {
		if strings.EqualFold(site.Hostname, host) {
			return site.ID, true
		}
	}
	return 0, false
}

// Store writes a rendered page and records the elements it depends on,
// if the request is cacheable. Failures are logged, never returned,
// so that caching cannot break page delivery.
func (s *Service) Store(req *Request, siteURI siteuri.SiteURI, output []byte, elementIDs []int64) cache.WriteResult {
	if !req.IsCacheable() {
		return cache.WriteResult{Status: cache.Skipped}
	}
	log := s.log.With().Str("uri", siteURI.String()).Logger()

	res := s.store.Write(siteURI, output)
	switch res.Status {
	case cache.Failed:
		log.Error().Err(res.Err).Str("path", res.Path).Msg("Could not write cached page")
		return res
	case cache.Skipped:
		log.Trace().Msg("No cache root configured, page not stored")
		return res
	}

	for _, id := range elementIDs {
		if err := s.index.Record(id, siteURI); err != nil {
			log.Error().Err(err).Int64("element", id).Msg("Could not record element dependency")
		}
	}
	log.Debug().Int("elements", len(elementIDs)).Msg("Stored page")
	return res
}
