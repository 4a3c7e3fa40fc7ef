package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// TokenHeader carries the control token of stop and roster requests.
const TokenHeader = "X-Control-Token"

// Core is the part of the live core the control server drives.
type Core interface {
	Stop(ctx context.Context) error
	Status() engine.Status
	SetRoster(ctx context.Context, symbols []string) error
}

// Server serves the control API over a unix socket.
type Server struct {
	log         *logger.Logger
	core        Core
	token       string
	socket      string
	stopTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	stopping bool
}

type response struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RosterRequest is the body of POST /roster.
type RosterRequest struct {
	Symbols []string `json:"symbols"`
}

// NewServer creates a control server. stopTimeout bounds the graceful stop
// started by POST /stop.
func NewServer(log *logger.Logger, core Core, socket, token string, stopTimeout time.Duration) *Server {
	return &Server{
		log:         log.Named("control"),
		core:        core,
		token:       token,
		socket:      socket,
		stopTimeout: stopTimeout,
	}
}

// Handler returns the control routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/roster", s.handleRoster).Methods(http.MethodPost)

	return router
}

// Start listens on the socket and serves in the background. A stale socket
// file left by a crashed process is removed first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New(errors.ErrCodeControlFailed, "control server already started")
	}

	if err := os.MkdirAll(filepath.Dir(s.socket), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to create socket directory", err)
	}

	if err := os.Remove(s.socket); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to remove stale socket", err)
	}

	listener, err := net.Listen("unix", s.socket)
	if err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to listen on "+s.socket, err)
	}

	if err := os.Chmod(s.socket, 0o600); err != nil {
		_ = listener.Close()

		return errors.Wrap(errors.ErrCodeControlFailed, "failed to restrict socket permissions", err)
	}

	s.listener = listener
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server stopped", zap.Error(err))
		}
	}(s.http)

	s.log.Info("control server listening", zap.String("socket", s.socket))

	return nil
}

// Shutdown stops serving and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	_ = os.Remove(s.socket)

	if err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to shut down control server", err)
	}

	return nil
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		s.log.Warn("rejected control request with an invalid token", zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusForbidden, response{Error: "invalid control token"})

		return false
	}

	return true
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	s.mu.Lock()
	already := s.stopping
	s.stopping = true
	s.mu.Unlock()

	if !already {
		s.log.Info("stop requested over the control socket")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
			defer cancel()

			if err := s.core.Stop(ctx); err != nil {
				s.log.Error("graceful stop failed", zap.Error(err))
			}
		}()
	}

	writeJSON(w, http.StatusAccepted, response{Status: "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	var req RosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid roster body: " + err.Error()})

		return
	}

	if err := s.core.SetRoster(r.Context(), req.Symbols); err != nil {
		s.log.Warn("roster change rejected", zap.Strings("symbols", req.Symbols), zap.Error(err))

		status := http.StatusInternalServerError
		if errors.HasCode(err, errors.ErrCodeInvalidParameter) {
			status = http.StatusBadRequest
		}

		writeJSON(w, status, response{Error: err.Error()})

		return
	}

	s.log.Info("roster changed over the control socket", zap.Strings("symbols", req.Symbols))
	writeJSON(w, http.StatusOK, response{Status: "roster_updated"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
