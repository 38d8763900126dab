package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/imgclassify/internal/api/handlers"
	"github.com/onnwee/imgclassify/internal/apierr"
	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/middleware"
)

const readyTimeout = 2 * time.Second

// Deps are the long-lived components the HTTP surface is built on.
type Deps struct {
	Config      *config.Config
	Pipeline    handlers.Inferer
	Monitor     handlers.Reporter
	Cache       handlers.CacheAdmin
	Model       handlers.Pinger
	RateLimiter *middleware.RateLimiter // nil disables inbound rate limiting
}

// API is the fully wrapped HTTP handler plus the resources it owns.
type API struct {
	handler http.Handler
	stream  *handlers.ReportStreamHandler
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Close disconnects report stream clients.
func (a *API) Close() {
	a.stream.Close()
}

// NewRouter registers every route, under both "/" and "/api", and wraps the
// router in the global middleware chain.
func NewRouter(d Deps) *API {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Load()
	}
	cors := middleware.CORSConfigForOrigins(cfg.CORSAllowedOrigins)

	classify := handlers.NewClassifyHandler(d.Pipeline, cfg.FetchTimeout+cfg.ModelTimeout)
	report := handlers.NewReportHandler(d.Monitor, cfg.ReportTopN)
	stream := handlers.NewReportStreamHandler(d.Monitor, cfg.ReportTopN, cfg.ReportStreamInterval, cors.CheckOrigin)
	cacheAdmin := handlers.NewCacheAdminHandler(d.Cache, cfg.CacheBackend)

	limit := func(h http.Handler) http.Handler {
		if d.RateLimiter == nil {
			return h
		}
		return d.RateLimiter.Limit(h)
	}
	adminOnly := middleware.AdminAuth(cfg.AdminAPIToken)

	r := mux.NewRouter()
	r.Use(middleware.Tracing, middleware.RequestMetrics)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("route"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteErrorWithContext(w, r, apierr.New(apierr.ErrValidationInvalidFormat, "Method not allowed", http.StatusMethodNotAllowed))
	})

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	register := func(sr *mux.Router) {
		sr.Handle("/classify-image", limit(middleware.LimitRequestBody(middleware.MaxRequestBodySize)(
			middleware.RequireJSON(http.HandlerFunc(classify.Classify))))).Methods("POST")
		sr.Handle("/report", limit(middleware.ETag(http.HandlerFunc(report.GetReport)))).Methods("GET")
		sr.Handle("/report/stream", limit(http.HandlerFunc(stream.HandleWebSocket))).Methods("GET")
		sr.HandleFunc("/health", handlers.Health).Methods("GET")
		sr.Handle("/ready", handlers.Ready(d.Model, readyTimeout)).Methods("GET")

		admin := sr.PathPrefix("/admin").Subrouter()
		admin.Use(adminOnly)
		admin.Handle("/cache/stats", middleware.ETag(http.HandlerFunc(cacheAdmin.GetCacheStats))).Methods("GET")
		admin.HandleFunc("/cache/invalidate", cacheAdmin.InvalidateCache).Methods("POST")
	}
	register(r.PathPrefix("/api").Subrouter())
	register(r)

	var h http.Handler = r
	h = middleware.Compress(h)
	h = middleware.CORS(cors)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RequestID(h)
	h = middleware.RecoverWithSentry(h)

	return &API{handler: h, stream: stream}
}
