package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/captur/internal/domain"
)

const heartbeatInterval = 30 * time.Second

type engine interface {
	State() domain.State
	Subscribe() chan domain.State
	Unsubscribe(ch chan domain.State)
	SetEnabled(enabled bool) error
	RequestLocationPermission(ctx context.Context) error
	ReloadIdentity(ctx context.Context) error
}

// identity switches the signed-in user the engine resolves on reload.
type identity interface {
	Switch(userID string)
}

// Option configures a Server.
type Option func(*Server)

// WithIdentity enables POST /identity, which switches the user and reloads
// the engine's balance for them.
func WithIdentity(id identity) Option {
	return func(s *Server) {
		s.identity = id
	}
}

// Server exposes the engine state over HTTP: a JSON snapshot, an SSE stream
// and the sharing toggle.
type Server struct {
	Addr     string
	Engine   engine
	l        *zap.Logger
	identity identity

	heartbeat time.Duration
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, e engine, opts ...Option) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Server{Addr: addr, Engine: e, l: l, heartbeat: heartbeatInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/state/stream", s.handleStateStream)
	mux.HandleFunc("/sharing", s.handleSharing)
	mux.HandleFunc("/permission", s.handlePermission)
	if s.identity != nil {
		mux.HandleFunc("/identity", s.handleIdentity)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("HTTP server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stateView is the wire form of domain.State with the balance fixed at two places.
type stateView struct {
	Status           string                 `json:"status"`
	Enabled          bool                   `json:"enabled"`
	Balance          string                 `json:"balance"`
	SignedIn         bool                   `json:"signed_in"`
	TelemetryBlocked bool                   `json:"telemetry_blocked"`
	LastSample       *domain.PositionSample `json:"last_sample,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func viewOf(st domain.State) stateView {
	return stateView{
		Status:           st.Status.String(),
		Enabled:          st.Enabled,
		Balance:          st.Balance.StringFixed(domain.BalancePlaces),
		SignedIn:         st.HasUser(),
		TelemetryBlocked: st.TelemetryBlocked,
		LastSample:       st.LastSample,
		UpdatedAt:        st.UpdatedAt,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(s.Engine.State()))
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Engine.Subscribe()
	defer s.Engine.Unsubscribe(ch)

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case st, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(viewOf(st))
			if err != nil {
				s.l.Error("state stream marshal", zap.Error(err))
				return
			}
			fmt.Fprintf(w, "event: state\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type sharingRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSharing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sharingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
		return
	}

	if err := s.Engine.SetEnabled(*req.Enabled); err != nil {
		s.l.Warn("sharing toggle rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, http.StatusOK, viewOf(s.Engine.State()))
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.Engine.RequestLocationPermission(r.Context()); err != nil {
		s.l.Warn("permission request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, http.StatusOK, viewOf(s.Engine.State()))
}

type identityRequest struct {
	// UserID "" signs the user out.
	UserID *string `json:"user_id"`
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req identityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.UserID == nil {
		http.Error(w, `body must be {"user_id": "<id>"}`, http.StatusBadRequest)
		return
	}

	s.identity.Switch(*req.UserID)
	if err := s.Engine.ReloadIdentity(r.Context()); err != nil {
		s.l.Warn("identity reload rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, http.StatusOK, viewOf(s.Engine.State()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Error("write response", zap.Error(err))
	}
}

// Single-card status page fed by the SSE stream.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Captur</title>
  <link href="https://fonts.googleapis.com/css2?family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-soft:#9c9c9c; --panel:#f6f6f6; --ok:#2f9e44; --warn:#e8590c; }
    * { box-sizing:border-box; }
    body {
      margin:0; min-height:100vh; display:flex; align-items:center; justify-content:center;
      background:var(--bg); color:var(--ink); font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app { width:min(480px, 94vw); background:var(--panel); border:3px solid var(--ink); padding:2rem; box-shadow:12px 12px 0 rgba(0,0,0,.15); }
    h1 { margin:0 0 1.5rem; font-size:1.1rem; letter-spacing:.1em; }
    .balance { font-size:3rem; font-weight:700; }
    .row { display:flex; justify-content:space-between; margin:.5rem 0; }
    .label { color:var(--ink-soft); }
    .active { color:var(--ok); }
    .blocked { color:var(--warn); }
    button { margin-top:1.5rem; width:100%; padding:.8rem; border:3px solid var(--ink); background:var(--bg); font:inherit; cursor:pointer; }
  </style>
</head>
<body>
  <div id="app">
    <h1>CAPTUR</h1>
    <div class="balance" id="balance">0.00</div>
    <div class="row"><span class="label">status</span><span id="status">-</span></div>
    <div class="row"><span class="label">location</span><span id="location">-</span></div>
    <div class="row"><span class="label">account</span><span id="account">-</span></div>
    <button id="toggle">-</button>
  </div>
  <script>
    let enabled = false;
    const $ = (id) => document.getElementById(id);
    function render(s) {
      enabled = s.enabled;
      $('balance').textContent = s.balance;
      $('status').textContent = s.status;
      $('status').className = s.status === 'active' ? 'active' : '';
      if (s.telemetry_blocked) {
        $('location').textContent = 'permission denied';
        $('location').className = 'blocked';
      } else if (s.last_sample) {
        $('location').textContent = s.last_sample.latitude.toFixed(5) + ', ' + s.last_sample.longitude.toFixed(5);
        $('location').className = '';
      } else {
        $('location').textContent = '-';
      }
      $('account').textContent = s.signed_in ? 'signed in' : 'signed out';
      $('toggle').textContent = enabled ? 'STOP SHARING' : 'START SHARING';
    }
    $('toggle').onclick = () => fetch('/sharing', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({enabled: !enabled}),
    });
    const es = new EventSource('/state/stream');
    es.addEventListener('state', (e) => render(JSON.parse(e.data)));
  </script>
</body>
</html>`
