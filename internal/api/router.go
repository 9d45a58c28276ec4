package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netpanel/linkpanel/internal/config"
	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/results"
	"github.com/netpanel/linkpanel/pkg/types"
)

type Router struct {
	handler          *Handler
	streamHandler    http.Handler
	wsHandler        http.HandlerFunc
	resultsHandler   *results.Handler
	limiter          *RateLimiter
	allowedOrigins   []string
	clientIPResolver *ClientIPResolver
}

func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

func (r *Router) GetLimiter() *RateLimiter {
	return r.limiter
}

func (r *Router) SetRateLimiter(cfg *config.Config) {
	r.limiter = NewRateLimiter(cfg)
}

func (r *Router) SetClientIPResolver(resolver *ClientIPResolver) {
	r.clientIPResolver = resolver
}

// SetStreamHandler installs the SSE relay for GET /stream_iperf.
func (r *Router) SetStreamHandler(h http.Handler) {
	r.streamHandler = h
}

// SetStatsWSHandler installs the WebSocket stats push for GET /ws/stats.
func (r *Router) SetStatsWSHandler(h http.HandlerFunc) {
	r.wsHandler = h
}

func (r *Router) SetResultsHandler(h *results.Handler) {
	r.resultsHandler = h
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Rate-limited JSON routes
	limited := func(method, path string, handler http.HandlerFunc) {
		h := handler
		if r.limiter != nil {
			h = applyRateLimit(r.limiter, h)
		}
		mux.HandleFunc(method+" "+path, h)
	}

	limited("GET", "/api/interfaces", r.handler.GetInterfaces)
	limited("GET", "/api/stats", r.handler.GetStats)
	limited("GET", "/api/version", r.handler.GetVersion)
	limited("GET", "/api/run/{cid}", r.HandleWithCID(r.handler.GetRunStatus))
	limited("POST", "/run_iperf", r.handler.StartRun)
	limited("POST", "/stop_iperf", r.handler.StopRun)
	limited("GET", "/iperf_version", r.handler.GetIperfVersion)

	if r.resultsHandler != nil {
		limited("GET", "/api/results", r.resultsHandler.List)
		limited("GET", "/api/results/{id}", r.resultsHandler.Get)
	}

	// Long-lived push routes stay outside the per-request limiter.
	if r.streamHandler != nil {
		mux.Handle("GET /stream_iperf", r.streamHandler)
	}
	if r.wsHandler != nil {
		mux.HandleFunc("GET /ws/stats", r.wsHandler)
	}

	mux.HandleFunc("GET /health", r.HealthCheck)

	// Wrap with middleware (outermost runs first)
	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)

	return handler
}

// applyRateLimit wraps a handler with rate limit checking.
func applyRateLimit(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if skipRateLimitPaths[r.URL.Path] {
			next(w, r)
			return
		}
		ip := limiter.ClientIP(r)
		if !limiter.Allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (r *Router) HandleWithCID(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		cid := req.PathValue("cid")
		if cid == "" {
			respondJSON(w, map[string]string{"error": "run ID required"}, http.StatusBadRequest)
			return
		}
		if !isValidCID(cid) {
			respondJSON(w, map[string]string{"error": "invalid run ID"}, http.StatusBadRequest)
			return
		}
		fn(w, req, cid)
	}
}

func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		logging.Warn("health: write response", logging.Field{Key: "error", Value: err})
	}
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		originAllowed := origin != "" && r.isAllowedOrigin(origin)
		if originAllowed {
			allowOrigin := origin
			if r.isAllowAllOrigins() {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if origin != "" && !originAllowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) isAllowedOrigin(origin string) bool {
	if len(r.allowedOrigins) == 0 {
		return false
	}
	originHostValue := types.OriginHost(origin)
	for _, allowed := range r.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := types.OriginHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func (r *Router) isAllowAllOrigins() bool {
	for _, allowed := range r.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}

func isValidCID(cid string) bool {
	if cid == "" {
		return false
	}
	_, err := uuid.Parse(cid)
	return err == nil
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path

		// Long-lived streams would log one entry per connection lifetime
		// with a misleading duration; skip them.
		skipLog := path == "/stream_iperf" || strings.HasPrefix(path, "/ws/")

		if !skipLog && (strings.HasPrefix(path, "/api/") || path == "/run_iperf" ||
			path == "/stop_iperf" || path == "/iperf_version") {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, req)

			duration := time.Since(start)
			logging.Info("HTTP request",
				logging.Field{Key: "method", Value: req.Method},
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "status", Value: rw.statusCode},
				logging.Field{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
				logging.Field{Key: "ip", Value: r.resolveClientIP(req)},
			)
		} else {
			next.ServeHTTP(w, req)
		}
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (r *Router) resolveClientIP(req *http.Request) string {
	if r.clientIPResolver == nil {
		return ipString(parseRemoteIP(req.RemoteAddr))
	}
	return r.clientIPResolver.FromRequest(req)
}
