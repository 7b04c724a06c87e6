// Package stream exposes the event bus over a websocket. Each connection is
// bound to the caller's tenant; platform-scope sessions receive all tenants.
package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solvereign/backend/internal/events"
	"github.com/solvereign/backend/internal/monitoring"
	"github.com/solvereign/backend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Streamer upgrades authenticated requests and pumps bus events out.
type Streamer struct {
	bus      *events.Bus
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients int
}

func NewStreamer(bus *events.Bus, metrics *monitoring.Metrics) *Streamer {
	return &Streamer{
		bus:     bus,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
	}
}

// ServeHTTP handles GET /events/stream. The auth middleware has already
// validated the session; an unauthenticated request never reaches this point.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc, err := session.FromContext(r.Context())
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}

	tenantFilter := sc.TenantID
	if sc.IsPlatformScope {
		tenantFilter = ""
	}
	sub := s.bus.Subscribe(tenantFilter)

	s.track(1)
	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
}

// writePump forwards bus events and keeps the connection alive with pings.
func (s *Streamer) writePump(conn *websocket.Conn, sub *events.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and tears the subscription down on close.
func (s *Streamer) readPump(conn *websocket.Conn, sub *events.Subscription) {
	defer func() {
		s.bus.Unsubscribe(sub)
		conn.Close()
		s.track(-1)
	}()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) track(delta int) {
	s.mu.Lock()
	s.clients += delta
	n := s.clients
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetStreamClients(n)
	}
}

// Clients reports the connected client count.
func (s *Streamer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}
