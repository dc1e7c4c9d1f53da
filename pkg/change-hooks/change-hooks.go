// Package changehooks exposes cache invalidation, clearing, deploys and
// driver tests over HTTP, so that a content system can report changes.
package changehooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/always-cache/static-cache/pkg/drivers"
	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// Service is the part of the cache service the hooks drive.
type Service interface {
	InvalidateElements(ctx context.Context, elementIDs ...int64) error
	ClearAll(ctx context.Context) error
	Deploy(siteURIs []siteuri.SiteURI) error
	CachedURIs() ([]siteuri.SiteURI, error)
	Drivers() *drivers.Registry
}

// JobLister lists the jobs of an in-process queue.
type JobLister interface {
	Records() []jobqueue.Record
}

type Config struct {
	Service Service
	// Optional, enables GET /jobs.
	Jobs JobLister
	// Optional bearer token required on every request.
	Token string
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

type hooks struct {
	service Service
	jobs    JobLister
	log     zerolog.Logger
}

// New returns the router serving the change hooks.
func New(config Config) http.Handler {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	h := &hooks{
		service: config.Service,
		jobs:    config.Jobs,
		log:     logger.With().Str("component", "change-hooks").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	if config.Token != "" {
		r.Use(requireToken(config.Token))
	}
	r.Post("/elements/{elementID}/changed", h.elementChanged)
	r.Post("/elements/changed", h.elementsChanged)
	r.Post("/cache/clear", h.clearCache)
	r.Post("/deploy", h.deploy)
	r.Get("/drivers", h.listDrivers)
	r.Get("/drivers/test", h.testDrivers)
	if h.jobs != nil {
		r.Get("/jobs", h.listJobs)
	}
	return r
}

func (h *hooks) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Handled hook")
	})
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, errors.New(errors.CodeUnauthorized, "missing or invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Pages  int    `json:"pages,omitempty"`
}

func (h *hooks) elementChanged(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "elementID")
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, errors.WithContext(
			errors.Newf(errors.CodeInvalidInput, "invalid element id %q", param),
			"elementID", param))
		return
	}
	h.invalidate(w, r, []int64{id})
}

type elementsRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *hooks) elementsChanged(w http.ResponseWriter, r *http.Request) {
	var body elementsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "malformed request body"))
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, errors.New(errors.CodeInvalidInput, "ids cannot be empty"))
		return
	}
	h.invalidate(w, r, body.IDs)
}

func (h *hooks) invalidate(w http.ResponseWriter, r *http.Request, ids []int64) {
	if err := h.service.InvalidateElements(r.Context(), ids...); err != nil {
		h.log.Error().Err(err).Ints64("elements", ids).Msg("Invalidation failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "invalidated"})
}

func (h *hooks) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

type deployRequest struct {
	// Pages in "<siteID>:<uri>" form. Every cached page is deployed if empty.
	URIs []string `json:"uris"`
}

func (h *hooks) deploy(w http.ResponseWriter, r *http.Request) {
	var body deployRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "malformed request body"))
			return
		}
	}

	var siteURIs []siteuri.SiteURI
	if len(body.URIs) == 0 {
		cached, err := h.service.CachedURIs()
		if err != nil {
			writeError(w, errors.Wrap(err, errors.CodeInternal, "could not list cached pages"))
			return
		}
		siteURIs = cached
	} else {
		for _, value := range body.URIs {
			siteURI, err := siteuri.Parse(value)
			if err != nil {
				writeError(w, errors.Wrap(err, errors.CodeInvalidInput, "invalid uri"))
				return
			}
			siteURIs = append(siteURIs, siteURI)
		}
	}

	if err := h.service.Deploy(siteURIs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued", Pages: len(siteURIs)})
}

func (h *hooks) listDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Drivers().Names())
}

type testResponse struct {
	Pass        bool                 `json:"pass"`
	Diagnostics []drivers.Diagnostic `json:"diagnostics"`
}

func (h *hooks) testDrivers(w http.ResponseWriter, r *http.Request) {
	pass, diagnostics := h.service.Drivers().Test(r.Context())
	if diagnostics == nil {
		diagnostics = []drivers.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, testResponse{Pass: pass, Diagnostics: diagnostics})
}

type jobResponse struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Total       int    `json:"total"`
	Label       string `json:"label,omitempty"`
	Done        bool   `json:"done"`
	Error       string `json:"error,omitempty"`
}

func (h *hooks) listJobs(w http.ResponseWriter, r *http.Request) {
	records := h.jobs.Records()
	jobs := make([]jobResponse, 0, len(records))
	for _, rec := range records {
		job := jobResponse{
			ID:          rec.ID,
			Description: rec.Description,
			Count:       rec.Count,
			Total:       rec.Total,
			Label:       rec.Label,
			Done:        rec.Done,
		}
		if rec.Err != nil {
			job.Error = rec.Err.Error()
		}
		jobs = append(jobs, job)
	}
	writeJSON(w, http.StatusOK, jobs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(errors.GetCode(err)), errors.ToJSON(err))
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.CodeInvalidInput, errors.CodeInvalidConfig:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
