// Package server hosts the step-up HTTP process: the session REST surface
// plus the realtime transports (WebSocket, event-stream, polling) that
// carry the completion signal back to the waiting device.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/strongholdauth/stronghold/internal/platform/timeouts"
	"github.com/strongholdauth/stronghold/internal/stepup/code"
	"github.com/strongholdauth/stronghold/internal/stepup/hub"
	"github.com/strongholdauth/stronghold/internal/stepup/service"
	"github.com/strongholdauth/stronghold/internal/stepup/storage"
	"github.com/strongholdauth/stronghold/internal/stepup/storage/memory"
	redisstore "github.com/strongholdauth/stronghold/internal/stepup/storage/redis"
	"github.com/strongholdauth/stronghold/internal/stepup/storage/sqlite"
)

// Config defines the inputs for the step-up HTTP boundary.
type Config struct {
	HTTPAddr          string
	DBPath            string
	RedisAddr         string
	SessionTTL        time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the step-up HTTP process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           storage.Store
	redisClient     *goredis.Client
}

// completionNotifier bridges the lifecycle service to the hub. The
// service signals completion by session id; whichever transport is
// registered under that key receives the event.
type completionNotifier struct {
	hub *hub.Hub
}

func (n completionNotifier) AuthCompleted(sessionID string) {
	n.hub.Publish(sessionID, hub.Event{Type: hub.EventAuthComplete})
}

// NewServer builds a configured step-up server. The session store is
// chosen from config: Redis when an address is set, SQLite when a
// database path is set, otherwise process-local memory.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	var store storage.Store
	var redisClient *goredis.Client
	switch {
	case strings.TrimSpace(config.RedisAddr) != "":
		redisClient = goredis.NewClient(&goredis.Options{Addr: strings.TrimSpace(config.RedisAddr)})
		store = redisstore.New(redisClient, config.SessionTTL)
		log.Printf("stepup: using redis session store at %s", config.RedisAddr)
	case strings.TrimSpace(config.DBPath) != "":
		sqliteStore, err := sqlite.Open(strings.TrimSpace(config.DBPath), config.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		store = sqliteStore
		log.Printf("stepup: using sqlite session store at %s", config.DBPath)
	default:
		store = memory.New(config.SessionTTL)
		log.Printf("stepup: using in-memory session store")
	}

	notificationHub := hub.New()
	lifecycle := service.New(store, code.NewGenerator(), completionNotifier{hub: notificationHub})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(lifecycle, notificationHub),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
		redisClient:     redisClient,
	}, nil
}

// Run creates and serves a step-up server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init stepup server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve stepup: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("stepup server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("stepup server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close session store: %v", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Printf("close redis client: %v", err)
		}
	}
}

// newHandler wires the REST surface and the realtime transports onto one
// mux. Exported via NewHandler for tests and offline paths.
func newHandler(lifecycle *service.Service, notificationHub *hub.Hub) http.Handler {
	handlers := &httpHandlers{
		lifecycle: lifecycle,
		hub:       notificationHub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/mobile-sign/start-session", handlers.startSession)
	mux.HandleFunc("/mobile-sign/verify-user-code", handlers.verifyUserCode)
	mux.HandleFunc("/mobile-sign/store-payload", handlers.storePayload)
	mux.HandleFunc("/mobile-sign/sessions/", handlers.sessionsSubtree)

	mux.Handle("/ws/", newWSHandler(notificationHub))
	mux.HandleFunc("/sse/", handlers.eventStream)
	mux.HandleFunc("/register-polling", handlers.registerPolling)
	mux.HandleFunc("/poll-updates/", handlers.pollUpdates)

	return mux
}

// NewHandler creates the step-up routes over an in-memory store. Intended
// for tests and local tooling.
func NewHandler() http.Handler {
	notificationHub := hub.New()
	lifecycle := service.New(memory.New(0), code.NewGenerator(), completionNotifier{hub: notificationHub})
	return newHandler(lifecycle, notificationHub)
}
