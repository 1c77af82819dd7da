// Package api exposes the HTTP surface of the support chat: admin login,
// push subscription registration, health, metrics and the websocket
// upgrade.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/ratelimit"
	"github.com/npezzotti/go-supportchat/internal/server"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
)

// Router is the part of the message pipeline the HTTP handlers need.
type Router interface {
	server.RoomRouter
	SaveRoomSubscription(ctx context.Context, roomId string, sub types.PushSubscription) error
	SaveAdminSubscription(ctx context.Context, sub types.PushSubscription) error
}

type GoChatApp struct {
	log            *zap.Logger
	db             database.RoomStore
	srv            *http.Server
	cs             *server.ChatServer
	router         Router
	stats          stats.StatsProvider
	metrics        http.Handler
	limiter        ratelimit.Limiter
	signingKey     []byte
	allowedOrigins []string
	vapidPublicKey string
	proxyHeaders   bool
}

type Option func(*GoChatApp)

func WithStats(sp stats.StatsProvider) Option {
	return func(s *GoChatApp) { s.stats = sp }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *GoChatApp) { s.metrics = h }
}

// WithLoginLimiter throttles POST /login per client address.
func WithLoginLimiter(l ratelimit.Limiter) Option {
	return func(s *GoChatApp) { s.limiter = l }
}

// WithProxyHeaders takes the client address from X-Forwarded-For and
// X-Real-IP. Only enable it behind a proxy that overwrites those headers.
func WithProxyHeaders(enabled bool) Option {
	return func(s *GoChatApp) { s.proxyHeaders = enabled }
}

func NewGoChatApp(mux *http.ServeMux, logger *zap.Logger, cs *server.ChatServer, db database.RoomStore, rr Router, cfg *config.Config, opts ...Option) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		router:         rr,
		stats:          stats.Discard,
		limiter:        ratelimit.Unlimited{},
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		vapidPublicKey: cfg.Push.VAPIDPublicKey,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("POST /login", s.rateLimit(s.login))
	mux.HandleFunc("POST /logout", s.logout)
	mux.HandleFunc("POST /api/save-subscription", s.saveSubscription)
	mux.HandleFunc("POST /api/save-admin-subscription", s.authMiddleware(s.saveAdminSubscription))
	mux.HandleFunc("GET /api/health", s.healthCheck)
	mux.HandleFunc("GET /api/vapid-public-key", s.vapidPublicKeyHandler)
	mux.HandleFunc("GET /ws", s.serveWs)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.requestLogger(h)
	if s.proxyHeaders {
		h = handlers.ProxyHeaders(h)
	}

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
