package warmer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/static-cache/pkg/drivers"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
	"github.com/always-cache/static-cache/pkg/sites"
)

const userAgent = "static-cache-warmer"

type Config struct {
	Sites sites.Sites
	// HTTP client to use. A client with a 30 second timeout is used if nil.
	Client *http.Client
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

// HTTPWarmer regenerates pages by requesting them, so that the renderer
// writes them back into the cache.
type HTTPWarmer struct {
	sites  sites.Sites
	client *http.Client
	log    zerolog.Logger
}

func New(config Config) *HTTPWarmer {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPWarmer{
		sites:  config.Sites,
		client: client,
		log:    logger.With().Str("component", "warmer").Logger(),
	}
}

// WarmURIs requests every page in order. Failures are logged and
// returned together after all pages have been tried.
func (w *HTTPWarmer) WarmURIs(ctx context.Context, siteURIs []siteuri.SiteURI, progress jobqueue.ProgressFunc) error {
	var errs []error
	total := len(siteURIs)
	for i, siteURI := range siteURIs {
		if err := ctx.Err(); err != nil {
			return err
		}
		url, err := w.sites.URL(siteURI)
		if err == nil {
			err = w.fetch(ctx, url)
		}
		if err != nil {
			w.log.Warn().Err(err).Str("uri", siteURI.String()).Msg("Could not warm page")
			errs = append(errs, err)
		}
		if progress != nil {
			progress(i+1, total, fmt.Sprintf("Warming %d of %d pages.", i+1, total))
		}
	}
	return errors.Join(errs...)
}

func (w *HTTPWarmer) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 400 {
		return fmt.Errorf("GET %s: %s", url, res.Status)
	}
	w.log.Trace().Str("url", url).Int("status", res.StatusCode).Msg("Warmed page")
	return nil
}

// Test requests the home page of every site.
func (w *HTTPWarmer) Test(ctx context.Context) (bool, []drivers.Diagnostic) {
	diagnostics := make([]drivers.Diagnostic, 0)
	for _, site := range w.sites {
		url, err := w.sites.URL(siteuri.New(site.ID, siteuri.HomeURI))
		if err == nil {
			err = w.fetch(ctx, url)
		}
		if err != nil {
			diagnostics = append(diagnostics, drivers.Diagnostic{SiteName: w.sites.Name(site.ID), Message: err.Error()})
		}
	}
	return len(diagnostics) == 0, diagnostics
}
