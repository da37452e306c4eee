package httpx

import (
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinybeacon/pkg/analytics"
)

// Tracker is the part of sdk.Client the middleware needs.
type Tracker interface {
	TrackPageView(pv analytics.PageView) error
}

// Options tunes Middleware. The zero value is usable.
type Options struct {
	// Domain is recorded on every page view. Empty means the request host
	// without its port.
	Domain string

	// Salt is mixed into visitor ids so they cannot be recomputed by
	// someone who knows the hashing scheme.
	Salt string

	// CollapseIDs rewrites numeric and UUID path segments to {id}.
	CollapseIDs bool

	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool

	// Skip excludes requests from tracking.
	Skip func(r *http.Request) bool

	// Now is the clock used for the visitor id day. Nil means time.Now.
	Now func() time.Time
}

// Middleware returns HTTP middleware that records a page view for every
// successful GET a browser makes. Bots, Do-Not-Track requests and
// responses with status >= 400 are ignored.
//
// Usage:
//
//	client, _ := sdk.New(sdk.ClientConfig{Endpoint: "http://127.0.0.1:3000"})
//	client.Start(ctx)
//	defer client.Stop()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	tracked := httpx.Middleware(client, httpx.Options{Domain: "example.com"})(mux)
//	http.ListenAndServe(":8080", tracked)
func Middleware(client Tracker, opts Options) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if !trackable(r, rw.statusCode, opts.Skip) {
				return
			}

			ua := r.UserAgent()
			browser, os := ParseUserAgent(ua)
			path := r.URL.Path
			if opts.CollapseIDs {
				path = normalizePath(path)
			}
			domain := opts.Domain
			if domain == "" {
				domain = hostname(r.Host)
			}

			// Delivery errors surface through the client's OnError.
			_ = client.TrackPageView(analytics.PageView{
				Domain:    domain,
				Path:      path,
				Referrer:  r.Referer(),
				Browser:   browser,
				OS:        os,
				VisitorID: VisitorID(opts.Salt, clientIP(r, opts.TrustProxy), ua, now()),
			})
		})
	}
}

func trackable(r *http.Request, status int, skip func(*http.Request) bool) bool {
	if r.Method != http.MethodGet || status >= http.StatusBadRequest {
		return false
	}
	if r.Header.Get("DNT") == "1" || IsBot(r.UserAgent()) {
		return false
	}
	// Prefetches are not views.
	if purpose := r.Header.Get("Sec-Purpose") + r.Header.Get("Purpose"); strings.Contains(purpose, "prefetch") {
		return false
	}
	return skip == nil || !skip(r)
}

// VisitorID derives an anonymous id from the client address and user agent.
// It changes every UTC day so visitors cannot be followed across days.
func VisitorID(salt, ip, ua string, at time.Time) string {
	day := at.UTC().Format(analytics.DayLayout)
	sum := xxhash.Sum64String(salt + "|" + ip + "|" + ua + "|" + day)
	return strconv.FormatUint(sum, 36)
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

var (
	numericSegment = regexp.MustCompile(`/\d+`)
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// normalizePath collapses id-like segments.
// Examples:
//   - /blog/123 → /blog/{id}
//   - /posts/456/comments → /posts/{id}/comments
//   - /orders/3f2c...-... → /orders/{id}
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}")
}
