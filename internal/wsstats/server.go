// Package wsstats pushes interface statistics to connected panels over
// WebSocket so the stats page updates without polling.
package wsstats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/stats"
	"github.com/netpanel/linkpanel/pkg/types"
)

// Provider fetches the current stats report for one interface. The server
// wires this to the collector plus the active run's counter baseline.
type Provider func(ctx context.Context, iface string) (*types.StatsReport, error)

type Server struct {
	upgrader       websocket.Upgrader
	provider       Provider
	defaultIface   string
	pushInterval   time.Duration
	pingInterval   time.Duration
	allowedOrigins []string

	mu      sync.RWMutex
	clients map[*websocket.Conn]*clientConn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type clientConn struct {
	conn  *websocket.Conn
	iface string
	mu    sync.Mutex
}

func NewServer(provider Provider, defaultIface string, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = 2 * time.Second
	}
	server := &Server{
		provider:     provider,
		defaultIface: defaultIface,
		pushInterval: pushInterval,
		pingInterval: 30 * time.Second,
		clients:      make(map[*websocket.Conn]*clientConn),
		stopCh:       make(chan struct{}),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

// Start launches the push and ping loops.
func (s *Server) Start() {
	s.wg.Add(2)
	go s.pushLoop()
	go s.pingLoop()
}

func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// HandleStats serves GET /ws/stats. The iface query parameter selects the
// interface to watch; the configured default applies when absent.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	iface := r.URL.Query().Get("iface")
	if iface == "" {
		iface = s.defaultIface
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade error",
			logging.Field{Key: "error", Value: err},
			logging.Field{Key: "iface", Value: iface})
		return
	}
	defer conn.Close()

	// Reads only detect disconnects; cap frame size.
	conn.SetReadLimit(4096)

	client := &clientConn{conn: conn, iface: iface}
	s.mu.Lock()
	s.clients[conn] = client
	s.mu.Unlock()

	if err := client.writeJSON(map[string]interface{}{
		"type":  "connected",
		"iface": iface,
		"time":  time.Now().Unix(),
	}); err != nil {
		s.removeClient(conn)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeClient(conn)
}

type statsMessage struct {
	Type    string             `json:"type"`
	Iface   string             `json:"iface"`
	Report  *types.StatsReport `json:"report,omitempty"`
	Summary *stats.Report      `json:"summary,omitempty"`
	Error   string             `json:"error,omitempty"`
	Time    int64              `json:"time"`
}

func (s *Server) pushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.push()
		}
	}
}

// push fetches each watched interface once and fans the result out to its
// watchers.
func (s *Server) push() {
	byIface := make(map[string][]*clientConn)
	s.mu.RLock()
	for _, client := range s.clients {
		byIface[client.iface] = append(byIface[client.iface], client)
	}
	s.mu.RUnlock()

	for iface, watchers := range byIface {
		msg := s.buildMessage(iface)
		data, err := json.Marshal(msg)
		if err != nil {
			logging.Warn("stats push marshal failed",
				logging.Field{Key: "iface", Value: iface},
				logging.Field{Key: "error", Value: err})
			continue
		}
		for _, client := range watchers {
			if err := client.writeMessage(websocket.TextMessage, data); err != nil {
				s.removeClient(client.conn)
				client.conn.Close()
			}
		}
	}
}

func (s *Server) buildMessage(iface string) statsMessage {
	msg := statsMessage{Type: "stats", Iface: iface, Time: time.Now().Unix()}

	ctx, cancel := context.WithTimeout(context.Background(), s.pushInterval)
	defer cancel()

	report, err := s.provider(ctx, iface)
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
		return msg
	}
	msg.Report = report
	summary := stats.Summarize(report.Link, report.Delta)
	msg.Summary = &summary
	return msg
}

func (s *Server) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.mu.RLock()
	refs := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		refs = append(refs, client)
	}
	s.mu.RUnlock()

	for _, client := range refs {
		if err := client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

func (s *Server) isAllowedOrigin(origin string, host string) bool {
	if origin == "" {
		return true
	}

	s.mu.RLock()
	allowedOrigins := append([]string(nil), s.allowedOrigins...)
	s.mu.RUnlock()

	if len(allowedOrigins) == 0 {
		return sameOrigin(origin, host)
	}

	originHostValue := types.OriginHost(origin)
	for _, allowed := range allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := types.OriginHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func sameOrigin(origin string, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originH := types.StripHostPort(parsed.Host)
	requestH := types.StripHostPort(host)
	return strings.EqualFold(originH, requestH)
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}
