// Package server serves the annotated frame stream, live gesture events and
// the recorded history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/gesture"
	"github.com/ayusman/gesturedog/internal/producer"
	"github.com/ayusman/gesturedog/internal/server/api"
	"github.com/ayusman/gesturedog/internal/store"
)

// Status is the live view of an in-process producer.
type Status struct {
	State       gesture.DogState `json:"state"`
	LastGesture string           `json:"last_gesture"`
	Battery     int              `json:"battery"`
	Session     string           `json:"session,omitempty"`
	Stats       *producer.Stats  `json:"stats,omitempty"`
}

// StatusFunc reports the current status, or nil before a session exists.
type StatusFunc func() *Status

// ProducerStatus adapts a producer running in the same process.
func ProducerStatus(p *producer.Producer) StatusFunc {
	return func() *Status {
		sess := p.Session()
		if sess == nil {
			return nil
		}
		stats := sess.Stats()
		return &Status{
			State:       sess.State(),
			LastGesture: sess.Machine.LastGesture(),
			Battery:     sess.BatteryLevel(),
			Session:     sess.ID,
			Stats:       &stats,
		}
	}
}

// Config holds the server configuration. Zero-valued parts disable their
// routes.
type Config struct {
	Addr      string
	SlotPaths frameslot.Paths
	Encoder   Encoder
	IdleWait  time.Duration
	Store     *store.Store
	Hub       *Hub
	Status    StatusFunc
	StaticDir string
	Logger    *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *zap.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: config.Logger.Named("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/state", s.handleState)

	if s.config.SlotPaths.Meta != "" {
		stream := NewStreamHandler(s.config.SlotPaths, s.config.Encoder, s.config.IdleWait, s.config.Logger)
		s.mux.Handle("/video", stream)
		s.mux.Handle("/api/stream", stream)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/events", s.config.Hub)
	}

	if s.config.Store != nil {
		actions := api.NewActionHandler(s.config.Store)
		s.mux.Handle("/api/actions", actions)
		s.mux.Handle("/api/actions/", actions)
		s.mux.Handle("/api/transitions", api.NewTransitionHandler(s.config.Store))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Status != nil {
		if st := s.config.Status(); st != nil {
			response["state"] = st.State
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.config.Status == nil {
		http.Error(w, "No producer in this process", http.StatusNotFound)
		return
	}
	st := s.config.Status()
	if st == nil {
		http.Error(w, "No active session", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Run serves on config.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams never finish on their own; tie them to ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
