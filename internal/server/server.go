package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GriffinCanCode/respawnwatch/internal/display"
	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/orchestrator"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// Watcher is the detection loop as seen by the API. Implemented by
// *orchestrator.Manager.
type Watcher interface {
	Status() orchestrator.Status
	Events() <-chan orchestrator.Event
	RefreshDisplays(ctx context.Context) (display.Snapshot, error)
	ReloadTemplates(ctx context.Context) (int, error)
}

// Displays exposes the current monitor layout.
type Displays interface {
	Current() (display.Snapshot, error)
}

// TemplateSet lists the active templates.
type TemplateSet interface {
	Loaded() []*templates.Template
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type MatchMessage struct {
	Type     string    `json:"type"`
	Cycle    uint64    `json:"cycle"`
	Time     time.Time `json:"time"`
	Monitor  int       `json:"monitor"`
	Template string    `json:"template"`
	Score    float64   `json:"score"`
	Tile     int       `json:"tile"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Strategy string    `json:"strategy"`
}

type CycleErrorMessage struct {
	Type  string    `json:"type"`
	Cycle uint64    `json:"cycle"`
	Time  time.Time `json:"time"`
	Code  string    `json:"code"`
	Error string    `json:"error"`
}

type StatusMessage struct {
	Type   string         `json:"type"`
	Status StatusResponse `json:"status"`
}

type RefreshedMessage struct {
	Type     string        `json:"type"`
	Monitors []MonitorView `json:"monitors"`
}

type ReloadedMessage struct {
	Type      string `json:"type"`
	Templates int    `json:"templates"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MonitorView is the JSON form of a display.Monitor.
type MonitorView struct {
	Index   int  `json:"index"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Primary bool `json:"primary"`
}

// TemplateView is the JSON form of a loaded template.
type TemplateView struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	orchestrator.Status
	Generation uint64         `json:"generation"`
	Monitors   []MonitorView  `json:"monitors"`
	Templates  []TemplateView `json:"templates"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	watcher   Watcher
	displays  Displays
	templates TemplateSet

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
	done  chan struct{}
}

// New creates a server and starts broadcasting watcher events.
func New(w Watcher, d Displays, t TemplateSet) *Server {
	s := &Server{
		watcher:   w,
		displays:  d,
		templates: t,
		conns:     make(map[*websocket.Conn]struct{}),
		done:      make(chan struct{}),
	}
	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(trace.Middleware)

	r.Get(PathHealth, s.handleHealth)
	r.Get(PathStatus, s.handleStatus)
	r.Post(PathRefresh, s.handleRefresh)
	r.Post(PathReload, s.handleReload)
	r.HandleFunc(PathEvents, s.handleWebSocket)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.watcher.RefreshDisplays(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"monitors":   monitorViews(snap),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.watcher.ReloadTemplates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"templates": n})
}

func (s *Server) status(ctx context.Context) StatusResponse {
	resp := StatusResponse{Status: s.watcher.Status(), Monitors: []MonitorView{}, Templates: []TemplateView{}}
	if s.displays != nil {
		snap, err := s.displays.Current()
		if err != nil {
			trace.Logger(ctx).Debug("status without displays", "error", err)
		} else {
			resp.Generation = snap.Generation
			resp.Monitors = monitorViews(snap)
		}
	}
	if s.templates != nil {
		for _, t := range s.templates.Loaded() {
			sz := t.Size()
			resp.Templates = append(resp.Templates, TemplateView{Name: t.Name, Path: t.Path, Width: sz.X, Height: sz.Y})
		}
	}
	return resp
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	if err := wsjson.Write(ctx, conn, StatusMessage{Type: "status", Status: s.status(ctx)}); err != nil {
		return
	}

	rl := &rateLimiter{}
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		s.handleCommand(ctx, conn, msg.Type)
	}
}

func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, kind string) {
	ctx, span := trace.StartSpan(ctx, "ws_"+kind)
	defer span.End()

	var reply any
	switch kind {
	case "status":
		reply = StatusMessage{Type: "status", Status: s.status(ctx)}
	case "refresh":
		snap, err := s.watcher.RefreshDisplays(ctx)
		if err != nil {
			reply = ErrorMessage{Type: "error", Message: err.Error()}
			break
		}
		reply = RefreshedMessage{Type: "refreshed", Monitors: monitorViews(snap)}
	case "reload_templates":
		n, err := s.watcher.ReloadTemplates(ctx)
		if err != nil {
			reply = ErrorMessage{Type: "error", Message: err.Error()}
			break
		}
		reply = ReloadedMessage{Type: "reloaded", Templates: n}
	default:
		reply = ErrorMessage{Type: "error", Message: "unknown command: " + kind}
	}
	_ = wsjson.Write(ctx, conn, reply)
}

// broadcastEvents forwards matches and cycle errors to every client.
// Misses are not broadcast.
func (s *Server) broadcastEvents() {
	defer close(s.done)
	for ev := range s.watcher.Events() {
		var msg any
		switch ev.Type {
		case orchestrator.EventMatch:
			res := ev.Result
			msg = MatchMessage{
				Type: ev.Type, Cycle: ev.Cycle, Time: ev.Time, Monitor: res.Monitor,
				Template: res.Template, Score: res.Score, Tile: res.Tile,
				X: res.Location.X, Y: res.Location.Y, Strategy: res.Strategy,
			}
		case orchestrator.EventCycleError:
			msg = CycleErrorMessage{
				Type: ev.Type, Cycle: ev.Cycle, Time: ev.Time,
				Code: apperrors.CodeOf(ev.Err).String(), Error: ev.Error,
			}
		default:
			continue
		}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, msg)
			}(conn)
		}
		s.mu.RUnlock()
	}
}

func monitorViews(snap display.Snapshot) []MonitorView {
	out := make([]MonitorView, 0, len(snap.Monitors))
	for _, m := range snap.Monitors {
		out = append(out, MonitorView{
			Index: m.Index, X: m.Bounds.Min.X, Y: m.Bounds.Min.Y,
			Width: m.Bounds.Dx(), Height: m.Bounds.Dy(), Primary: m.Primary,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

// writeError maps error codes to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeNoDisplaysFound, apperrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.CodeTemplateDirUnreadable:
		status = http.StatusNotFound
	case apperrors.CodeInvalidArgument, apperrors.CodeConfigInvalid:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"code": code.String(), "error": err.Error()})
}
