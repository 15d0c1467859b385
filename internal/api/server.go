package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/prefs"
	"github.com/banshee-data/rangefinder/internal/session"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Config wires a Server to its collaborators. Only Store is required.
type Config struct {
	Store   *prefs.UnitStore
	DB      *db.DB // results are not persisted when nil
	Tracker *inclination.Tracker
	Display session.Display
	Clock   timeutil.Clock
	// Perturbation overrides solver.DefaultPerturbation when positive.
	Perturbation float64
}

// Server exposes one live estimation session over HTTP. A finalized session
// stays readable until a new one is started.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sess     *session.Session
	recorded bool
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Perturbation <= 0 {
		cfg.Perturbation = solver.DefaultPerturbation
	}
	s := &Server{cfg: cfg}
	s.sess = s.newSession()
	return s
}

func (s *Server) newSession() *session.Session {
	sess := session.New(
		session.WithTracker(s.cfg.Tracker),
		session.WithClock(s.cfg.Clock),
		session.WithPerturbation(s.cfg.Perturbation),
		session.WithDisplay(s.cfg.Display),
	)
	if err := sess.ConfigureFrom(s.cfg.Store); err != nil {
		monitoring.Logf("configure session %s: %v", sess.ID(), err)
	}
	return sess
}

// Session returns the live session.
func (s *Server) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Reset replaces the live session with a fresh one configured from the
// preference store.
func (s *Server) Reset() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = s.newSession()
	s.recorded = false
	return s.sess
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", s.showEstimate)
	mux.HandleFunc("/api/configure", s.configure)
	mux.HandleFunc("/api/adjust", s.adjust)
	mux.HandleFunc("/api/tilt", s.pushTilt)
	mux.HandleFunc("/api/finalize", s.finalize)
	mux.HandleFunc("/api/session", s.startSession)
	mux.HandleFunc("/api/results", s.listResults)
	mux.HandleFunc("/api/preferences", s.preferences)
	mux.HandleFunc("/api/ticks", s.showTicks)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}
