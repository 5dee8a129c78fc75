package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/clustersnap-go/internal/server/httpserver/handler"
	"github.com/yndnr/clustersnap-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the API routes.
	Handler *handler.Handler

	// Metrics records request metrics and serves MetricsPath. Nil disables both.
	Metrics *metric.Registry

	// MetricsPath is the prometheus scrape path. Empty disables the endpoint.
	MetricsPath string

	// GlobalRateLimit is the rate limit per client IP (requests/second).
	// Zero disables rate limiting.
	GlobalRateLimit int

	// Logger for request logging.
	Logger *slog.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
//
// Order: Recover -> RequestID -> AccessLog -> RateLimit -> Handler
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/", cfg.Handler)
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, cfg.Metrics.Handler())
	}

	middlewares := []Middleware{
		Recover(logger),
		RequestID(),
		AccessLog(logger, cfg.Metrics),
	}
	if cfg.GlobalRateLimit > 0 {
		middlewares = append(middlewares, RateLimit(cfg.GlobalRateLimit))
	}
	return Chain(mux, middlewares...)
}
