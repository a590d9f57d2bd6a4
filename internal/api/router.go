package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studylib/internal/auth"
	"studylib/internal/config"
	"studylib/internal/metrics"
	"studylib/internal/presence"
	"studylib/internal/session"
	"studylib/internal/verification"
	"studylib/internal/ws"
)

// Deps are the services the HTTP layer is built on. cmd/server owns their
// lifecycle.
type Deps struct {
	JWT          *auth.JWTService
	Verifier     *verification.Service
	Issuer       *session.Issuer
	Accounts     AccountReader
	Messages     MessageReader
	Presence     presence.Tracker
	Hub          *ws.Hub
	Metrics      *metrics.Metrics
	HealthChecks map[string]HealthCheck
}

type Server struct {
	router *chi.Mux
	config *config.Config
	hub    *ws.Hub
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring client IP resolver: %w", err)
	}

	authHandler := NewAuthHandler(deps.Verifier, deps.Issuer)
	userHandler := NewUserHandler(deps.Accounts, deps.Presence)
	messageHandler := NewMessageHandler(deps.Messages, deps.Hub.Rooms())
	serverInfoHandler := NewServerInfoHandler(ServerInfoResponse{
		Name:              cfg.Server.Name,
		Rooms:             deps.Hub.Rooms(),
		EmailVerification: deps.Verifier.EmailVerification(),
		PasswordMinLength: deps.Verifier.PasswordMinLength(),
	})
	wsHandler := NewWebSocketHandler(deps.Hub, cfg.Server.AllowedOrigins)
	healthHandler := NewHealthHandler(deps.HealthChecks)

	authMiddleware := NewAuthMiddleware(deps.JWT)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", deps.Metrics.Handler())

	// Limiters are shared by the versioned and unversioned auth paths.
	registerLimiter := rateLimit(5, time.Minute, resolver)
	verifyLimiter := rateLimit(10, time.Minute, resolver)
	resendLimiter := rateLimit(3, time.Minute, resolver)
	loginLimiter := rateLimit(10, time.Minute, resolver)
	refreshLimiter := rateLimit(30, time.Minute, resolver)

	authRoutes := func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB
		r.With(registerLimiter).Post("/register", authHandler.Register)
		r.With(verifyLimiter).Post("/verify-otp", authHandler.VerifyOTP)
		r.With(resendLimiter).Post("/resend-otp", authHandler.ResendOTP)
		r.With(loginLimiter).Post("/login", authHandler.Login)
		r.With(refreshLimiter).Post("/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Post("/logout", authHandler.Logout)
		})
	}

	// The web client posts its forms to the unversioned paths.
	r.Route("/auth", authRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/server/info", serverInfoHandler.GetInfo)

		r.Route("/auth", authRoutes)

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/", userHandler.GetAll)
			r.Get("/me", userHandler.GetMe)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/", messageHandler.GetHistory)
			r.Get("/direct/{userId}", messageHandler.GetDirectHistory)
		})
	})

	r.With(rateLimit(10, time.Minute, resolver)).Get("/ws", wsHandler.ServeWS)

	return &Server{
		router: r,
		config: cfg,
		hub:    deps.Hub,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Shutdown() {
	s.hub.Shutdown()
}

// corsMiddleware echoes allowed origins back and rejects the rest before
// they reach a handler.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !originAllowed(origin, allowedOrigins) {
					writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
