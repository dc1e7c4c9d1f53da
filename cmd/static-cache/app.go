package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	staticcache "github.com/always-cache/static-cache"
	"github.com/always-cache/static-cache/cache"
	"github.com/always-cache/static-cache/deploy"
	changehooks "github.com/always-cache/static-cache/pkg/change-hooks"
	"github.com/always-cache/static-cache/pkg/drivers"
	gitcli "github.com/always-cache/static-cache/pkg/git-cli"
	gitnative "github.com/always-cache/static-cache/pkg/git-native"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	"github.com/always-cache/static-cache/pkg/warmer"
)

// hooksPrefix is where the change hooks are mounted when serving.
const hooksPrefix = "/_static-cache"

type app struct {
	config  Config
	service *staticcache.Service
	worker  *jobqueue.Worker
	index   cache.ElementIndex
	log     zerolog.Logger
}

func newApp(config Config, logger zerolog.Logger) (*app, error) {
	siteList := config.sites()

	var index cache.ElementIndex
	switch config.DB {
	case "memory":
		index = cache.NewMemIndex()
	default:
		sqliteIndex, err := cache.NewSQLiteIndex(config.DB)
		if err != nil {
			return nil, err
		}
		index = sqliteIndex
	}

	store := cache.NewFileStore(cache.FileStoreConfig{
		Root:   config.CacheRoot,
		Sites:  siteList,
		Logger: &logger,
	})

	registry := drivers.NewRegistry()
	registry.RegisterPurger("dummy", drivers.DummyPurger{})
	if config.Warmer.Enabled {
		client := &http.Client{
			Timeout: config.Warmer.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		if client.Timeout == 0 {
			client.Timeout = 30 * time.Second
		}
		registry.RegisterWarmer("http", warmer.New(warmer.Config{
			Sites:  siteList,
			Client: client,
			Logger: &logger,
		}))
	}
	if len(config.Deploy.Repositories) > 0 {
		var opener deploy.Opener
		if config.Deploy.Client == clientNative {
			opener = gitnative.NewOpener()
		} else {
			opener = gitcli.NewOpener(nil)
		}
		registry.RegisterDeployer("git", deploy.NewGitDeployer(deploy.Config{
			Sites:        siteList,
			Repositories: config.Deploy.Repositories,
			Credentials:  config.Deploy.Credentials,
			Store:        store,
			Opener:       opener,
			Logger:       &logger,
		}))
	}

	worker := jobqueue.NewWorker(jobqueue.WorkerConfig{Logger: &logger})
	service := staticcache.New(staticcache.Config{
		Sites:    siteList,
		Store:    store,
		Index:    index,
		Drivers:  registry,
		Queue:    worker,
		Settings: config.Settings.Compile(&logger),
		Logger:   &logger,
	})
	return &app{
		config:  config,
		service: service,
		worker:  worker,
		index:   index,
		log:     logger,
	}, nil
}

// Close cancels pending jobs and releases the index.
func (a *app) Close() {
	a.worker.Close()
	if closer, ok := a.index.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.Error().Err(err).Msg("Could not close element index")
		}
	}
}

// handler serves the change hooks under hooksPrefix and every other
// request through the cache middleware and the site origins.
func (a *app) handler() (http.Handler, error) {
	origins, err := a.config.origins()
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Mount(hooksPrefix, changehooks.New(changehooks.Config{
		Service: a.service,
		Jobs:    a.worker,
		Token:   a.config.HooksToken,
		Logger:  &a.log,
	}))
	r.Handle("/*", a.service.Middleware(a.service.OriginProxy(origins)))
	return r, nil
}

// test runs every driver test and reports whether all passed.
func (a *app) test(ctx context.Context) bool {
	pass, diagnostics := a.service.Drivers().Test(ctx)
	for _, d := range diagnostics {
		a.log.Error().Str("site", d.SiteName).Msg(d.Message)
	}
	if pass {
		a.log.Info().Msg("All drivers passed")
	}
	return pass
}

// deploy deploys every cached page synchronously.
func (a *app) deploy(ctx context.Context) error {
	uris, err := a.service.CachedURIs()
	if err != nil {
		return err
	}
	a.log.Info().Int("pages", len(uris)).Msg("Deploying cached pages")
	return a.service.DeployNow(ctx, uris, func(count, total int, label string) {
		a.log.Debug().Int("count", count).Int("total", total).Msg(label)
	})
}

// invalidate invalidates the given elements and waits for the regeneration job.
func (a *app) invalidate(ctx context.Context, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid element id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no element ids given")
	}
	if err := a.service.InvalidateElements(ctx, ids...); err != nil {
		return err
	}
	a.worker.Wait()
	for _, rec := range a.worker.Records() {
		if rec.Err != nil {
			return fmt.Errorf("%s: %w", rec.Description, rec.Err)
		}
	}
	return nil
}
