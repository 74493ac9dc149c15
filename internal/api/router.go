package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/parishdesk/internal/api/handlers"
	"github.com/hugh/parishdesk/internal/api/middleware"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
	limiter *middleware.RateLimiter
}

type RouterConfig struct {
	DB          *gorm.DB
	Redis       *redis.Client // optional, health only
	Logger      *slog.Logger
	JWTService  *auth.JWTService
	AuthService auth.Authenticator
	Memberships *membership.Store
	Sessions    session.Store
	Guard       *tenancy.Guard
	Gate        *tenancy.RoleGate
	Switcher    *tenancy.Switcher
	Queue       handlers.TaskEnqueuer // optional

	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()
	router := &Router{Router: r}

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	if cfg.RateLimitReqs > 0 {
		router.limiter = middleware.NewRateLimiter(cfg.RateLimitReqs, cfg.RateLimitSecs)
		r.Use(middleware.RateLimit(router.limiter, middleware.ByIP))
	}

	// CORS - restrict to configured origins, or localhost in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", middleware.RefreshedTokenHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.CSRF(middleware.NewCSRFStore(), cfg.JWTService))

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService)
	orgHandler := handlers.NewOrganizationHandler(cfg.DB, cfg.Memberships, cfg.Switcher, cfg.Queue)
	petitionHandler := handlers.NewPetitionHandler(cfg.DB)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Authenticated, no organization needed
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTService, cfg.Sessions))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Get("/organizations", orgHandler.List)
			r.Post("/organizations/{id}/select", orgHandler.Select)

			// Tenant-scoped: the organization comes from the guard only
			r.Group(func(r chi.Router) {
				r.Use(middleware.Tenant(cfg.Guard, cfg.JWTService))

				r.Get("/organization", orgHandler.Current)
				r.Get("/petitions", petitionHandler.List)
				r.Post("/petitions", petitionHandler.Create)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireOrgRole(cfg.Gate, tenancy.RoleAdmin))

					r.Put("/organization", orgHandler.Update)
					r.Post("/organization/members", orgHandler.GrantMember)
					r.Delete("/organization/members/{userID}", orgHandler.RevokeMember)
				})
			})
		})
	})

	// Browser landing page for callers without a selection
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTService, cfg.Sessions))
		r.Get("/organizations/select", orgHandler.List)
	})

	return router
}

// Close stops background work owned by the router.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Stop()
	}
}
