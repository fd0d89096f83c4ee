package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	intrnl "skillhub/internal"
	"skillhub/internal/storage"
)

const sessionPruneInterval = time.Hour

// ServerHandle represents a running presence server instance.
type ServerHandle struct {
	addr      string
	server    *http.Server
	store     *storage.Store
	done      chan struct{}
	pruneStop chan struct{}
	err       error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the store, wires the registry, hub, and validator, and
// starts serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, logger zerolog.Logger) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.WSPath = NormalizeWSPath(cfg.WSPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var validator intrnl.SessionValidator = intrnl.NewStoreValidator(store)
	if cfg.RedisURL != "" {
		client, err := intrnl.NewRedisSessionClient(context.Background(), cfg.RedisURL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		validator = intrnl.NewRedisValidator(client)
		logger.Info().Msg("validating sessions against redis")
	}

	registry := intrnl.NewRegistry()
	hub := intrnl.NewHub(registry, logger)
	server := intrnl.NewServer(store, registry, hub, validator, logger, cfg.TokenTTL)

	router := NewRouter(cfg, server, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:      listener.Addr().String(),
		server:    httpServer,
		store:     store,
		done:      make(chan struct{}),
		pruneStop: make(chan struct{}),
	}

	pruneExpiredSessions(context.Background(), store, logger)
	go handle.pruneLoop(logger)

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	go handle.serve(listener, logger)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener, logger zerolog.Logger) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// stop the prune loop before the store goes away
	close(h.pruneStop)
	if closeErr := h.store.Close(); closeErr != nil {
		logger.Error().Err(closeErr).Msg("store close error")
	}
	h.err = err
}

// pruneLoop periodically deletes expired session tokens. Expired tokens are
// already rejected at validation time; this keeps the table from growing.
func (h *ServerHandle) pruneLoop(logger zerolog.Logger) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.pruneStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			pruneExpiredSessions(ctx, h.store, logger)
			cancel()
		}
	}
}

func pruneExpiredSessions(ctx context.Context, store *storage.Store, logger zerolog.Logger) {
	pruned, err := store.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("session prune failed")
		return
	}
	if pruned > 0 {
		logger.Info().Int64("pruned", pruned).Msg("expired sessions removed")
	}
}

// NewRouter assembles the chi router for the presence server.
func NewRouter(cfg ServerConfig, server *intrnl.Server, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(intrnl.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	// the SPA frontend is served from its own origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.HandleFunc(cfg.WSPath, server.ServeWS)

	r.Post("/signup", server.HandleSignup)
	r.Post("/login", server.HandleLogin)
	r.Post("/logout", server.HandleLogout)

	r.Get("/following", server.HandleFollowing)
	r.Get("/following/{username}", server.HandleFollowStatus)
	r.Post("/following/{username}", server.HandleFollow)
	r.Delete("/following/{username}", server.HandleUnfollow)

	r.Get("/presence/online", server.HandleOnlineUsers)

	r.Get("/healthz", server.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
