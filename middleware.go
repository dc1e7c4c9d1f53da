package staticcache

import (
	"net/http"

	"github.com/always-cache/static-cache/cache"
	cachestatus "github.com/always-cache/static-cache/pkg/cache-status"
	tee "github.com/always-cache/static-cache/pkg/response-writer-tee"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// Middleware stores the output of next for cacheable requests.
// Handlers report the elements a page depends on with AddElements.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siteID, _ := s.siteResolver(r)
		var cs cachestatus.CacheStatus

		// everything but the response status is known up front
		if !NewRequest(r, siteID, http.StatusOK, s.settings).IsCacheable() {
			cs.Forward(cachestatus.FwdBypass)
			w.Header().Set(cachestatus.HeaderName, cs.String())
			next.ServeHTTP(w, r)
			return
		}

		ctx, elements := withElements(r.Context())
		rs := tee.NewResponseSaver(nil)
		next.ServeHTTP(rs, r.WithContext(ctx))

		req := NewRequest(r, siteID, rs.StatusCode(), s.settings)
		siteURI := siteuri.New(siteID, req.Path)
		cs.Forward(cachestatus.FwdUriMiss)
		if res := s.Store(req, siteURI, rs.Body(), elements.list()); res.Status == cache.Written {
			cs.Stored()
			cs.Key(siteURI.String())
		}
		rs.Header().Set(cachestatus.HeaderName, cs.String())

		if err := rs.Flush(w); err != nil {
			s.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not write response body to client")
		}
	})
}
