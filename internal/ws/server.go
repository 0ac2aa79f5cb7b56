package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/modelsync/collab/internal/config"
	"github.com/modelsync/collab/internal/processor"
	"github.com/modelsync/collab/internal/protocol"
)

const maxMessageSize = 1 << 20

// Server accepts websocket connections and runs a Session per connection.
type Server struct {
	config         *config.Config
	registry       *processor.Registry
	router         *Router
	auth           *Authenticator
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	started        time.Time
	proc           *process.Process

	mu       sync.Mutex
	sessions map[string]*liveSession
	reserved int
	wg       sync.WaitGroup
}

type liveSession struct {
	session *Session
	conn    *conn
}

func NewServer(cfg *config.Config, registry *processor.Registry) *Server {
	s := &Server{
		config:         cfg,
		registry:       registry,
		router:         NewRouter(registry, nil),
		auth:           NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Required),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		started:        time.Now(),
		sessions:       make(map[string]*liveSession),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:  s.checkOrigin,
		Subprotocols: []string{protocol.Subprotocol},
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		glog.Warningf("process stats unavailable: %v", err)
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	mux.Handle("/api/projects", securityHeaders(http.HandlerFunc(s.handleProjects)))
	mux.Handle("/api/health", securityHeaders(http.HandlerFunc(s.handleHealth)))
	return mux
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// reserve claims a connection slot before upgrading.
func (s *Server) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.config.Server.MaxConnections
	if limit > 0 && len(s.sessions)+s.reserved >= limit {
		return ErrTooManyConnections
	}
	s.reserved++
	return nil
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := s.reserve(); err != nil {
		glog.Warningf("rejecting connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.reserved--
		s.mu.Unlock()
		glog.Warningf("ws upgrade error: %v", err)
		return
	}

	var pingPeriod time.Duration
	if rt := s.config.Server.ReadTimeout; rt > 0 {
		pingPeriod = rt * 9 / 10
	}
	c := newConn(wsConn, s.config.Server.SendBuffer, s.config.Server.WriteTimeout, pingPeriod)
	sess := NewSession(ulid.Make().String(), c, s.router, s.auth, s.config.Server.KeepAlive)

	s.mu.Lock()
	s.reserved--
	s.sessions[sess.ID()] = &liveSession{session: sess, conn: c}
	s.wg.Add(1)
	s.mu.Unlock()

	glog.Infof("[session %s] connected from %s (subprotocol %q)", sess.ID(), r.RemoteAddr, wsConn.Subprotocol())
	go s.serve(wsConn, c, sess)
}

func (s *Server) serve(wsConn *websocket.Conn, c *conn, sess *Session) {
	defer s.wg.Done()
	defer func() {
		sess.Terminate()
		c.close()
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
		glog.Infof("[session %s] disconnected", sess.ID())
	}()

	wsConn.SetReadLimit(maxMessageSize)
	readTimeout := s.config.Server.ReadTimeout
	if readTimeout > 0 {
		wsConn.SetPongHandler(func(string) error {
			return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		wsConn.SetPingHandler(func(data string) error {
			_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
			return wsConn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(closeGracePeriod))
		})
	}

	for {
		if readTimeout > 0 {
			_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("[session %s] read: %v", sess.ID(), err)
			}
			return
		}
		if err := sess.HandleMessage(data); err != nil {
			glog.Infof("[session %s] closing: %v", sess.ID(), err)
			return
		}
	}
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every connection and waits for their sessions to
// terminate.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, ls := range s.sessions {
		ls.conn.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, s.registry.Stats())
}

// Health is the body of /api/health.
type Health struct {
	Status      string  `json:"status"`
	Uptime      string  `json:"uptime"`
	Goroutines  int     `json:"goroutines"`
	Connections int     `json:"connections"`
	Projects    int     `json:"projects"`
	RSSBytes    uint64  `json:"rssBytes,omitempty"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		Connections: s.SessionCount(),
		Projects:    s.registry.Len(),
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			h.RSSBytes = mem.RSS
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			h.CPUPercent = pct
		}
	}
	writeJSON(w, h)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("writing response: %v", err)
	}
}

// authorize checks the bearer token of API requests when authentication is
// configured.
func (s *Server) authorize(r *http.Request) bool {
	if s.auth == nil {
		return true
	}
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	_, err := s.auth.Verify(token)
	return err == nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
