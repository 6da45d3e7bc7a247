package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"dailybudget/internal/cache"
	"dailybudget/internal/core"
	applog "dailybudget/internal/log"
	"dailybudget/internal/metrics"
	"dailybudget/internal/middleware/ratelimit"
	"dailybudget/internal/middleware/security"
	"dailybudget/internal/middleware/trace"
	"dailybudget/internal/pointer"
)

// Budget is the part of the budget service the API drives.
type Budget interface {
	CreateAccount(ctx context.Context, balance core.Money, payday time.Time) (core.Account, error)
	GetSummary(ctx context.Context, accountID int64) (core.Summary, error)
	AddSpend(ctx context.Context, accountID int64, amount core.Money, label string) (core.Spend, error)
	UpdatePayday(ctx context.Context, accountID int64, payday time.Time) (core.Account, error)
	UpdateBalance(ctx context.Context, accountID int64, balance core.Money) (core.Account, error)
	DeleteAccount(ctx context.Context, accountID int64) error
	GetSpend(ctx context.Context, spendID int64) (core.Spend, error)
	UpdateSpend(ctx context.Context, spendID int64, amount core.Money, label string, date time.Time) (core.Spend, error)
	DeleteSpend(ctx context.Context, spendID int64) error
}

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	RateLimit      ratelimit.Config
	// CacheSize of zero disables the summary cache.
	CacheSize int
	CacheTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
		RateLimit:      ratelimit.DefaultConfig(),
		CacheSize:      256,
		CacheTTL:       30 * time.Second,
	}
}

type Deps struct {
	Budget  Budget
	Pointer pointer.Pointer
	Checks  map[string]ReadyCheck
	Metrics *metrics.Registry
	Logger  *applog.Logger
}

type Server struct {
	http.Server

	budget  Budget
	pointer pointer.Pointer
	checks  map[string]ReadyCheck
	metrics *metrics.Registry
	logger  *applog.Logger

	requestTimeout time.Duration
	summaries      *cache.SummaryCache
	cacheManager   *cache.Manager
	limiter        *ratelimit.Limiter
	detector       *security.Detector
	upgrader       websocket.Upgrader

	started      time.Time
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a server ready for
// ListenAndServe.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = applog.FromContext(context.Background())
	}
	logger := deps.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:         cfg.Addr,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		budget:         deps.Budget,
		pointer:        deps.Pointer,
		checks:         map[string]ReadyCheck{},
		metrics:        deps.Metrics,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		limiter:        ratelimit.NewLimiter(cfg.RateLimit),
		detector:       security.NewDetector(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 5 * time.Second,
		},
		started: time.Now(),
		done:    make(chan struct{}),
	}
	for name, check := range deps.Checks {
		s.checks[name] = check
	}
	s.checks["active_account"] = func(ctx context.Context) error {
		_, err := s.pointer.Read(ctx)
		return err
	}

	if cfg.CacheSize > 0 {
		if cfg.CacheTTL <= 0 {
			cfg.CacheTTL = DefaultConfig().CacheTTL
		}
		s.summaries = cache.NewSummaryCache(cfg.CacheSize, cfg.CacheTTL, s.metrics.CacheHits, s.metrics.CacheMisses)
		s.cacheManager = cache.NewManager(func(removed int) {
			logger.Debug("Summary cache cleanup completed", "entries_removed", removed)
		})
		s.cacheManager.Register(s.summaries)
		s.cacheManager.StartCleanup(cfg.CacheTTL)
	}

	tracer := trace.NewMiddleware(logger, s.detector.ExtractClientIP,
		trace.WithObserver(s.metrics),
		trace.WithRoute(routeTemplate))
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)

	r := mux.NewRouter()
	r.Use(tracer.Middleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Registered ahead of the /api subrouter so the request timeout does
	// not apply to the long-lived stream.
	r.Handle("/api/active-account/watch", limit(http.HandlerFunc(s.handleWatch))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(limit)
	api.Use(s.timeoutMiddleware)

	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.handleDeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id}/summary", s.handleGetSummary).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/payday", s.handleUpdatePayday).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/balance", s.handleUpdateBalance).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/spends", s.handleAddSpend).Methods(http.MethodPost)

	api.HandleFunc("/spends/{id}", s.handleGetSpend).Methods(http.MethodGet)
	api.HandleFunc("/spends/{id}", s.handleUpdateSpend).Methods(http.MethodPut)
	api.HandleFunc("/spends/{id}", s.handleDeleteSpend).Methods(http.MethodDelete)

	api.HandleFunc("/active-account", s.handleGetActive).Methods(http.MethodGet)
	api.HandleFunc("/active-account", s.handlePutActive).Methods(http.MethodPut)
	api.HandleFunc("/summary", s.handleActiveSummary).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not_found", "no route for "+r.URL.Path).Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path).Write(w)
	})

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = headers.Middleware(s.detector.Middleware(r))
	return s
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	if s.requestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogRejected(r.Context(), r, s.detector.ExtractClientIP(r), applog.ComponentRateLimit, "rate_limited")
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, retry later").Write(w)
}

// Shutdown stops background cleanup, ends open watch streams and then
// shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.done)
		s.limiter.Stop()
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// summary serves an account summary from the cache when possible.
func (s *Server) summary(ctx context.Context, accountID int64) (core.Summary, error) {
	if s.summaries == nil {
		return s.budget.GetSummary(ctx, accountID)
	}
	if sum, ok := s.summaries.Get(accountID); ok {
		return sum, nil
	}
	gen := s.summaries.Generation(accountID)
	sum, err := s.budget.GetSummary(ctx, accountID)
	if err != nil {
		return core.Summary{}, err
	}
	s.summaries.SetIfGeneration(accountID, gen, sum)
	return sum, nil
}

func (s *Server) invalidate(accountID int64) {
	if s.summaries != nil {
		s.summaries.Invalidate(accountID)
	}
}
