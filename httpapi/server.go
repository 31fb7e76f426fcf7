package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/logging"
	"github.com/hupe1980/freza/metrics"
)

const maxBodyBytes int64 = 1 << 20

// Options configures a Server.
type Options struct {
	// Token enables bearer authentication when non-empty.
	Token string
	// Channel is the channel name chat requests run under when they do not
	// name one.
	Channel string
	// AllowOrigin sets Access-Control-Allow-Origin. Empty disables CORS.
	AllowOrigin string
	// Metrics enables /metrics and request counting.
	Metrics *metrics.Metrics
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server is the HTTP front of an engine.
type Server struct {
	engine *engine.Engine
	opts   Options
	mux    *http.ServeMux
}

// New creates a Server for eng.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Channel:         "webui",
		AllowOrigin:     "*",
		ShutdownTimeout: 10 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{engine: eng, opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/ping", s.handlePing)

	s.mux.Handle("POST /api/chat", s.auth(s.handleChat))
	s.mux.Handle("GET /api/stream/{id}", s.auth(s.handleSSE))
	s.mux.Handle("GET /api/ws/{id}", s.auth(s.handleWS))
	s.mux.Handle("GET /api/instances", s.auth(s.handleInstances))
	s.mux.Handle("GET /api/instances/{id}", s.auth(s.handleInstance))
	s.mux.Handle("POST /api/instances/{id}/stop", s.auth(s.handleStop))
	s.mux.Handle("GET /api/threads", s.auth(s.handleThreads))
	s.mux.Handle("GET /api/threads/{id}", s.auth(s.handleThread))
	s.mux.Handle("GET /api/stats", s.auth(s.handleStats))
	s.mux.Handle("GET /api/agents", s.auth(s.handleAgents))
	s.mux.Handle("GET /api/channels", s.auth(s.handleChannels))
	s.mux.Handle("GET /api/memory", s.auth(s.handleMemory))
	s.mux.Handle("GET /api/short-term", s.auth(s.handleShortTerm))

	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}
}

// Handler returns the root handler with CORS and request accounting.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.opts.Metrics != nil {
		h = s.instrument(h)
	}
	if s.opts.AllowOrigin != "" {
		h = s.cors(h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next(w, r)
			return
		}
		var token string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if _, after, ok := strings.Cut(route, " "); ok {
			route = after
		}
		s.opts.Metrics.ObserveHTTP(r.Method, route, rec.status)
	})
}
