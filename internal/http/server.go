package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/accounts"
	"github.com/Clark-Hu/movie-reviews/internal/auth"
	"github.com/Clark-Hu/movie-reviews/internal/catalog"
	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
	"github.com/Clark-Hu/movie-reviews/internal/reviews"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

// Services groups the application services the handlers call.
type Services struct {
	Accounts *accounts.Service
	Catalog  *catalog.Service
	Reviews  *reviews.Service
	Auth     *auth.Middleware
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	store    *store.Store
	accounts *accounts.Service
	catalog  *catalog.Service
	reviews  *reviews.Service
	authn    *auth.Middleware
	logger   *zap.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, st *store.Store, svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSAllowedOrigins))

	s := &Server{
		cfg:      cfg,
		store:    st,
		accounts: svc.Accounts,
		catalog:  svc.Catalog,
		reviews:  svc.Reviews,
		authn:    svc.Auth,
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.authRateLimit())
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
			})
			r.With(s.authn.RequireUser).Get("/me", s.handleMe)
		})

		r.Route("/movies", func(r chi.Router) {
			r.Get("/", s.handleListMovies)
			r.Get("/{id}", s.handleGetMovie)
			r.Get("/{id}/reviews", s.handleListMovieReviews)
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Use(s.authn.RequireUser)
			r.Post("/movie/{movieId}", s.handleSubmitReview)
			r.Get("/movie/{movieId}/my-review", s.handleGetMyReview)
			r.Put("/{reviewId}", s.handleEditReview)
			r.Delete("/{reviewId}", s.handleDeleteReview)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authn.RequireUser)
			r.Use(s.authn.RequireAdmin)

			r.Post("/movies", s.handleCreateMovie)
			r.Get("/movies/{id}", s.handleGetMovie)
			r.Put("/movies/{id}", s.handleUpdateMovie)
			r.Delete("/movies/{id}", s.handleDeleteMovie)
			r.Post("/movies/{id}/recompute-rating", s.handleRecomputeRating)

			r.Get("/users", s.handleListUsers)
			r.Get("/users/{id}", s.handleGetUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)

			r.Get("/reviews", s.handleAdminListReviews)
			r.Delete("/reviews/{reviewId}", s.handleAdminDeleteReview)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
