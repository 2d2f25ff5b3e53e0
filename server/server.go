// Package server exposes the Burrow HTTP API: immediate and scheduled posts,
// scheduler diagnostics, and a WebSocket feed of job state transitions.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/burrowsocial/burrow/config"
	"github.com/burrowsocial/burrow/post"
	"github.com/burrowsocial/burrow/scheduler"
)

// MaxClients bounds concurrent WebSocket connections
const MaxClients = 256

// BurrowServer serves the HTTP API and fans scheduler events out to
// WebSocket clients.
type BurrowServer struct {
	db        *sql.DB
	cfg       *config.Config
	posts     *post.Store
	scheduler *scheduler.Scheduler

	mux        *http.ServeMux
	httpServer *http.Server

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan *scheduler.Job

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// NewServer wires the API around an already-constructed post store and
// scheduler facade.
func NewServer(db *sql.DB, cfg *config.Config, posts *post.Store, sched *scheduler.Scheduler, logger *zap.SugaredLogger) *BurrowServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &BurrowServer{
		db:         db,
		cfg:        cfg,
		posts:      posts,
		scheduler:  sched,
		mux:        http.NewServeMux(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *scheduler.Job, 64),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.Named("server"),
	}

	s.setupHTTPRoutes()
	return s
}

// setupHTTPRoutes configures all HTTP handlers
func (s *BurrowServer) setupHTTPRoutes() {
	s.mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.HandleFunc("/api/posts", s.corsMiddleware(s.HandlePosts))
	s.mux.HandleFunc("/api/scheduled-posts/stats", s.corsMiddleware(s.HandleSchedulerStats))
	s.mux.HandleFunc("/api/scheduled-posts/", s.corsMiddleware(s.HandleScheduledPost)) // DELETE /api/scheduled-posts/{id}
	s.mux.HandleFunc("/api/scheduled-posts", s.corsMiddleware(s.HandleScheduledPosts)) // List/create (GET/POST)
}

// Handler returns the root HTTP handler (exposed for tests)
func (s *BurrowServer) Handler() http.Handler {
	return s.mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
func (s *BurrowServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Burrow-User")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// startEventLoop runs the WebSocket fan-out loop and feeds scheduler
// transitions into it.
func (s *BurrowServer) startEventLoop() {
	sub := s.scheduler.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.scheduler.Unsubscribe(sub)
		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-sub:
				select {
				case s.events <- job:
				default:
					// Broadcast queue full, drop rather than block the scheduler
				}
			}
		}
	}()

	s.wg.Add(1)
	go s.run()
}

// Start runs the event fan-out loop and serves HTTP until the context or
// Shutdown stops it.
func (s *BurrowServer) Start() error {
	s.startEventLoop()

	addr := fmt.Sprintf(":%d", s.cfg.GetServerPort())
	if !isPortAvailable(addr) {
		s.logger.Warnw("Port appears to be in use, bind may fail", "addr", addr)
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infow("Burrow server listening", "addr", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains WebSocket clients and stops the HTTP listener.
func (s *BurrowServer) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Server goroutines did not drain before deadline")
	}

	return err
}
