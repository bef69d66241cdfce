// Package statusapi is a reference dashboard collaborator external to the
// relay core: it never reaches back into the registry or call table, it
// only consumes the core's Event channel and keeps its own small derived
// view (current roster, active calls) to serve over REST and a live
// WebSocket feed.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/service"
)

type callSnapshot struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// Server is a small gin application that mirrors the relay's device-up/down
// and call-up/down events for any dashboard that wants to watch them.
type Server struct {
	engine *gin.Engine
	logger commons.Logger
	upgrad websocket.Upgrader

	mu      sync.Mutex
	devices map[string]bool
	calls   map[uint32]callSnapshot

	subMu       sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewServer builds the status API. Call Consume with a running Service's
// Events() channel to start tracking state.
func NewServer(logger commons.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	s := &Server{
		engine:      r,
		logger:      logger,
		devices:     make(map[string]bool),
		calls:       make(map[uint32]callSnapshot),
		subscribers: make(map[chan []byte]struct{}),
		upgrad:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/roster", s.handleRoster)
	r.GET("/ws", s.handleWS)
	return s
}

// Handler exposes the underlying http.Handler for an http.Server to serve.
func (s *Server) Handler() http.Handler { return s.engine }

// Consume ranges over events until the channel closes, updating the
// server's view and fanning each event out to connected WebSocket clients.
// Intended to run in its own goroutine for the life of the process.
func (s *Server) Consume(events <-chan service.Event) {
	for e := range events {
		s.apply(e)
		s.broadcast(e)
	}
}

func (s *Server) apply(e service.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Kind {
	case service.EventDeviceUp:
		s.devices[e.DeviceID] = true
	case service.EventDeviceDown:
		delete(s.devices, e.DeviceID)
	case service.EventCallUp:
		s.calls[e.CallID] = callSnapshot{Caller: e.Caller, Callee: e.Callee}
	case service.EventCallDown:
		delete(s.calls, e.CallID)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRoster(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	calls := make(map[uint32]callSnapshot, len(s.calls))
	for id, cs := range s.calls {
		calls[id] = cs
	}
	c.JSON(http.StatusOK, gin.H{"devices": ids, "calls": calls})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrad.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("status ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 32)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

type wireEvent struct {
	Kind     string `json:"kind"`
	DeviceID string `json:"device_id,omitempty"`
	CallID   uint32 `json:"call_id,omitempty"`
	Caller   string `json:"caller,omitempty"`
	Callee   string `json:"callee,omitempty"`
}

func kindName(k service.EventKind) string {
	switch k {
	case service.EventDeviceUp:
		return "device_up"
	case service.EventDeviceDown:
		return "device_down"
	case service.EventCallUp:
		return "call_up"
	case service.EventCallDown:
		return "call_down"
	default:
		return "unknown"
	}
}

func (s *Server) broadcast(e service.Event) {
	payload, err := json.Marshal(wireEvent{
		Kind:     kindName(e.Kind),
		DeviceID: e.DeviceID,
		CallID:   e.CallID,
		Caller:   e.Caller,
		Callee:   e.Callee,
	})
	if err != nil {
		return
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			s.logger.Warnw("status ws subscriber slow, dropping event")
		}
	}
}
