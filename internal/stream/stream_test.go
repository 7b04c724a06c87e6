package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/events"
	"github.com/solvereign/backend/internal/identity"
	"github.com/solvereign/backend/internal/session"
)

func streamServer(t *testing.T, bus *events.Bus, sc *session.SessionContext) *httptest.Server {
	t.Helper()
	streamer := NewStreamer(bus, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc != nil {
			r = r.WithContext(session.WithSession(r.Context(), sc))
		}
		streamer.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSubscribers blocks until the server side of the handshake has
// registered its bus subscription.
func waitForSubscribers(t *testing.T, bus *events.Bus) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Subscribers() > 0 },
		2*time.Second, 5*time.Millisecond)
}

func tenantSession(tenantID string) *session.SessionContext {
	return &session.SessionContext{
		User:     &identity.User{ID: "u1", TenantID: tenantID},
		TenantID: tenantID,
	}
}

func TestStreamDeliversTenantEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	srv := streamServer(t, bus, tenantSession("tenant-a"))
	conn := dial(t, srv)
	waitForSubscribers(t, bus)

	// Another tenant's event must not arrive.
	bus.Publish(events.Event{Type: events.TypePlanPublished, TenantID: "tenant-b", EntityID: "other"})
	bus.Publish(events.Event{Type: events.TypePlanPublished, TenantID: "tenant-a", EntityID: "plan-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "plan-1", got.EntityID)
	assert.Equal(t, "tenant-a", got.TenantID)
}

func TestStreamPlatformScopeSeesAllTenants(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sc := &session.SessionContext{
		User:            &identity.User{ID: "admin", IsPlatform: true},
		IsPlatformScope: true,
	}
	srv := streamServer(t, bus, sc)
	conn := dial(t, srv)
	waitForSubscribers(t, bus)

	bus.Publish(events.Event{Type: events.TypeKillSwitch, TenantID: "tenant-z", EntityID: "site/publish"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "tenant-z", got.TenantID)
}

func TestStreamRejectsUnauthenticated(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	srv := streamServer(t, bus, nil)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamClientCount(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	streamer := NewStreamer(bus, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(session.WithSession(r.Context(), tenantSession("tenant-a")))
		streamer.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return streamer.Clients() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return streamer.Clients() == 0 },
		2*time.Second, 10*time.Millisecond)
}
