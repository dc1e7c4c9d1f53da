package staticcache

import (
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ElementsHeader lists the elements a page rendered by an origin depends on,
// as comma separated ids. It is removed before the response is sent on.
const ElementsHeader = "X-Static-Cache-Elements"

// Origin is the server rendering the pages of a site.
type Origin struct {
	URL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	Host string
}

// OriginProxy forwards requests to the origin of the requested site.
// Wrapped in Service.Middleware, it turns a dynamic site into static files.
type OriginProxy struct {
	proxies      map[int]*httputil.ReverseProxy
	siteResolver func(*http.Request) (int, bool)
	log          zerolog.Logger
}

// OriginProxy creates a proxy to the given origins, keyed by site id.
func (s *Service) OriginProxy(origins map[int]Origin) *OriginProxy {
	p := &OriginProxy{
		proxies:      make(map[int]*httputil.ReverseProxy, len(origins)),
		siteResolver: s.siteResolver,
		log:          s.log.With().Str("component", "origin-proxy").Logger(),
	}
	for siteID, origin := range origins {
		p.proxies[siteID] = p.reverseProxy(origin)
	}
	return p
}

func (p *OriginProxy) reverseProxy(origin Origin) *httputil.ReverseProxy {
	host := origin.URL.Host
	hostHeader := host
	transport := http.DefaultTransport
	if origin.Host != "" {
		hostHeader = origin.Host
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: origin.Host,
			},
		}
	}
	return &httputil.ReverseProxy{
		Director:       createDirector(origin.URL.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: p.collectElements,
	}
}

// ServeHTTP implements the http.Handler interface.
func (p *OriginProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	siteID, ok := p.siteResolver(r)
	proxy := p.proxies[siteID]
	if !ok || proxy == nil {
		p.log.Debug().Str("host", r.Host).Msg("No origin for host")
		http.Error(w, "unknown site", http.StatusBadGateway)
		return
	}
	p.log.Trace().Int("site", siteID).Msgf("proxying %s", r.URL.String())
	proxy.ServeHTTP(w, r)
	p.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("site", siteID).
		Msg("Proxied request")
}

// collectElements moves the element ids of the origin response into the request context.
func (p *OriginProxy) collectElements(res *http.Response) error {
	value := res.Header.Get(ElementsHeader)
	res.Header.Del(ElementsHeader)
	if value == "" {
		return nil
	}
	ids := make([]int64, 0)
	for _, field := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			p.log.Warn().Str("header", value).Msg("Ignoring malformed element id")
			continue
		}
		ids = append(ids, id)
	}
	AddElements(res.Request.Context(), ids...)
	return nil
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
