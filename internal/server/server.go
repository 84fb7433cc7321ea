package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mealmood/internal/analysis"
	"github.com/dukerupert/mealmood/internal/auth"
	"github.com/dukerupert/mealmood/internal/foodlog"
	"github.com/dukerupert/mealmood/internal/handler"
	"github.com/dukerupert/mealmood/internal/mcp"
	"github.com/dukerupert/mealmood/internal/metrics"
	"github.com/dukerupert/mealmood/internal/middleware"
	"github.com/dukerupert/mealmood/internal/model"
	"github.com/dukerupert/mealmood/internal/store"
	ws "github.com/dukerupert/mealmood/internal/websocket"
)

// Config holds the settings the HTTP layer needs.
type Config struct {
	JWTSecret        string
	TokenTTL         time.Duration
	ProviderTimeout  time.Duration
	AuthRateLimit    int
	AnalyzeRateLimit int
}

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	reconciler     *foodlog.Reconciler
	tokens         *auth.Tokens
	entryH         *handler.EntryHandler
	authH          *handler.AuthHandler
	mcpH           *mcp.Handler
	authLimiter    *middleware.RateLimiter
	analyzeLimiter *middleware.RateLimiter
	logger         *slog.Logger
}

func New(db *sql.DB, provider analysis.Provider, photos handler.PhotoStore, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	hub.OnCountChange(metrics.SetWebsocketClients)

	userStore := store.NewUserStore(db)
	entryStore := store.NewEntryStore(db)

	opts := foodlog.Options{
		Logger:   logger,
		Observer: metrics.Recorder{},
		Listener: &entryListener{
			hub:     hub,
			entries: entryStore,
			photos:  photos,
			logger:  logger.With("component", "photo_cleanup"),
		},
		ProviderTimeout: cfg.ProviderTimeout,
	}
	if images, ok := photos.(foodlog.ImageChecker); ok {
		opts.Images = images
	}
	rec := foodlog.New(entryStore, provider, opts)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	return &Server{
		db:             db,
		hub:            hub,
		reconciler:     rec,
		tokens:         tokens,
		entryH:         handler.NewEntryHandler(rec, photos, logger),
		authH:          handler.NewAuthHandler(userStore, tokens, logger),
		mcpH:           mcp.NewHandler(rec, logger),
		authLimiter:    middleware.NewRateLimiter(cfg.AuthRateLimit, time.Minute, cfg.AuthRateLimit),
		analyzeLimiter: middleware.NewRateLimiter(cfg.AnalyzeRateLimit, time.Minute, cfg.AnalyzeRateLimit),
		logger:         logger,
	}
}

// Reconciler returns the entry reconciler for maintenance tasks.
func (s *Server) Reconciler() *foodlog.Reconciler {
	return s.reconciler
}

// RateLimiters returns the limiters for cleanup tasks.
func (s *Server) RateLimiters() []*middleware.RateLimiter {
	return []*middleware.RateLimiter{s.authLimiter, s.analyzeLimiter}
}

// Hub returns the websocket hub so it can be closed on shutdown.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	byIP := func(r *http.Request) string { return middleware.RealIP(r) }
	authRL := middleware.RateLimit(s.authLimiter, byIP)
	outerMux.Handle("POST /api/auth/register", authRL(http.HandlerFunc(s.authH.Register)))
	outerMux.Handle("POST /api/auth/login", authRL(http.HandlerFunc(s.authH.Login)))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", metrics.Handler())

	// Protected routes behind RequireAuth
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// analyzing limits routes that call the analysis provider, per user.
func (s *Server) analyzing(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.analyzeLimiter, middleware.UserKey)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Entries
	mux.HandleFunc("GET /api/entries", s.entryH.List)
	mux.HandleFunc("GET /api/entries/summary", s.entryH.Summary)
	mux.Handle("POST /api/entries", s.analyzing(s.entryH.Create))
	mux.HandleFunc("GET /api/entries/{id}", s.entryH.Get)
	mux.HandleFunc("PUT /api/entries/{id}/text", s.entryH.EditText)
	mux.HandleFunc("PUT /api/entries/{id}/macros", s.entryH.EditMacros)
	mux.HandleFunc("PUT /api/entries/{id}/items", s.entryH.EditItems)
	mux.Handle("POST /api/entries/{id}/reanalyze", s.analyzing(s.entryH.Reanalyze))
	mux.HandleFunc("DELETE /api/entries/{id}", s.entryH.Delete)

	// Agent tool calls
	mux.Handle("POST /mcp", s.analyzing(s.mcpH.ServeHTTP))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}

// entryListener fans entry changes out to websocket clients and removes the
// stored photo of a deleted entry once no other entry of the owner uses it.
type entryListener struct {
	hub     *ws.Hub
	entries foodlog.Store
	photos  handler.PhotoStore
	logger  *slog.Logger
}

func (l *entryListener) EntryChanged(owner int64, action string, e *model.Entry) {
	l.hub.EntryChanged(owner, action, e)

	if action != foodlog.ActionDeleted || e == nil || e.ImageRef == "" || l.photos == nil {
		return
	}
	ref := e.ImageRef
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		l.removePhoto(ctx, owner, ref)
	}()
}

func (l *entryListener) removePhoto(ctx context.Context, owner int64, ref string) {
	entries, err := l.entries.ListByOwner(ctx, owner)
	if err != nil {
		l.logger.Warn("check photo references", "owner", owner, "ref", ref, "error", err)
		return
	}
	for _, other := range entries {
		if other.ImageRef == ref {
			l.logger.Debug("photo still referenced", "owner", owner, "ref", ref, "entry", other.ID)
			return
		}
	}
	if err := l.photos.Delete(ctx, owner, ref); err != nil {
		l.logger.Warn("delete photo", "owner", owner, "ref", ref, "error", err)
	}
}
