package cachestatus

import "strings"

// HeaderName is the response header defined by RFC 9211.
const HeaderName = "Cache-Status"

// CacheName identifies this cache in the header.
const CacheName = "static-cache"

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache was able to select a fresh response for the request, but the
	// request's semantics did not allow its use.
	FwdRequest FwdReason = "request"
)

// CacheStatus describes how the cache handled a request.
type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	stored    bool
	key       string
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// Stored marks that the response was written to the cache.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Key(key string) {
	cs.key = key
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs CacheStatus) IsStored() bool {
	return cs.stored
}

// String returns the header value, e.g. `static-cache; fwd=uri-miss; stored; key="1:about"`.
func (cs CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(CacheName)
	if cs.hit {
		b.WriteString("; hit")
	} else if cs.fwdReason != "" {
		b.WriteString("; fwd=")
		b.WriteString(string(cs.fwdReason))
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.key != "" {
		b.WriteString(`; key="`)
		b.WriteString(escape(cs.key))
		b.WriteString(`"`)
	}
	if cs.detail != "" {
		b.WriteString("; detail=")
		b.WriteString(cs.detail)
	}
	return b.String()
}

// escape quotes a value for use in a structured field string.
func escape(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}
