package main

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// server holds everything the HTTP handlers need.
type server struct {
	db       *sql.DB
	runner   roundRunner
	isAdmin  adminLookup
	hub      *Hub
	cards    cardLoader
	notifier interestNotifier
	bg       *sync.WaitGroup
	now      func() time.Time
	origins  []string
	log      *zap.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(withCORS(s.origins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/login", loginHandler(s.db, s.log))
	r.Post("/run-round", authenticate(requireAdmin(s.isAdmin, s.log, runRoundHandler(s.runner, s.log))))
	r.Post("/pool/join", joinPoolHandler(s.db, s.now, s.log))
	r.Get("/pool/status", poolStatusHandler(s.db, s.now, s.log))
	r.Post("/matches/{id}/interest", interestHandler(s.db, s.cards, s.notifier, s.bg, s.log))
	r.Post("/matches/{id}/block", blockMatchHandler(s.db, s.log))
	r.Post("/matches/{id}/report", reportMatchHandler(s.db, s.log))
	r.Get("/ws/notifications", wsNotificationsHandler(s.hub))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	return r
}

const requestIDHeader = "X-Request-ID"

// requestID keeps an incoming X-Request-ID or assigns a fresh UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("request_id", r.Header.Get(requestIDHeader)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(started)))
		})
	}
}
