package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mauri870/aofkv/internal/auth"
	"github.com/mauri870/aofkv/internal/metrics"
	"github.com/mauri870/aofkv/internal/store"
	"go.uber.org/zap"
)

const (
	notFoundBody = "NOT FOUND"
	okBody       = "OK"

	// maxValueSize bounds request bodies read by /set.
	maxValueSize = 16 << 20

	shutdownTimeout = 5 * time.Second
)

type ctxKey int

const prefixKey ctxKey = iota

type Server struct {
	store   *store.Store
	auth    *auth.Authenticator
	metrics *metrics.Metrics
	mux     *mux.Router
	logger  *zap.Logger
}

// New creates a new http server.
func New(st *store.Store, authn *auth.Authenticator, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{store: st, auth: authn, metrics: m, mux: mux.NewRouter(), logger: logger}

	h := func(f func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
		return s.handleErr(f)
	}

	s.mux.Use(s.requestID, s.accessLog)

	s.mux.HandleFunc("/", s.handleIndex).Methods("GET")
	if m != nil {
		s.mux.Handle("/metrics", m.Handler()).Methods("GET")
	}

	kv := s.mux.PathPrefix("").Subrouter()
	kv.Use(s.authenticate)
	kv.HandleFunc("/get/{key}", h(s.handleGet)).Methods("GET")
	kv.HandleFunc("/set/{key}", h(s.handleSet)).Methods("POST")
	kv.HandleFunc("/set/{key}/{value}", h(s.handleSet)).Methods("POST")
	kv.HandleFunc("/delete/{key}", h(s.handleDelete)).Methods("POST")

	return s
}

// Handler returns the root handler, mostly useful for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the http server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	s.logger.Warn("Shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", zap.Error(err))
	}
	return nil
}

func (s *Server) handleErr(f func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}

		s.logger.Debug("http request failed", zap.Error(err))

		type httpError struct {
			Error string `json:"error"`
		}

		w.Header().Set("Content-Type", "application/json")

		var errStr string
		var status int
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			status = http.StatusRequestEntityTooLarge
			errStr = "value too large"
		case store.IsClientError(err):
			status = http.StatusBadRequest
			errStr = err.Error()
		case errors.Is(err, auth.ErrUnauthorized):
			status = http.StatusUnauthorized
			errStr = err.Error()
		default:
			s.logger.Warn("unhandled error", zap.Error(err))
			status = http.StatusInternalServerError
			errStr = "something went wrong"
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(httpError{Error: errStr})
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, okBody)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	s.metrics.Request("http", "get")
	key := prefix(r) + mux.Vars(r)["key"]

	value, err := s.store.Get(key)
	if errors.Is(err, store.ErrKeyNotFound) {
		_, err = io.WriteString(w, notFoundBody)
		return err
	}
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, value)
	return err
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) error {
	s.metrics.Request("http", "set")
	vars := mux.Vars(r)
	key := prefix(r) + vars["key"]

	value, ok := vars["value"]
	if !ok {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
		if err != nil {
			return err
		}
		value = string(body)
	}

	if err := s.store.Set(key, value); err != nil {
		return err
	}

	_, err := io.WriteString(w, okBody)
	return err
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	s.metrics.Request("http", "delete")
	key := prefix(r) + mux.Vars(r)["key"]

	if err := s.store.Delete(key); err != nil {
		return err
	}

	_, err := io.WriteString(w, okBody)
	return err
}

func prefix(r *http.Request) string {
	p, _ := r.Context().Value(prefixKey).(string)
	return p
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	unauthorized := s.handleErr(func(http.ResponseWriter, *http.Request) error {
		return auth.ErrUnauthorized
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, r)
			return
		}
		p, err := s.auth.Prefix(token)
		if err != nil {
			unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), prefixKey, p)))
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.String("remote", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.String("request_id", w.Header().Get("X-Request-Id")),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
