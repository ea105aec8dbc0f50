package channel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/model"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dialTestClient spins up a server that upgrades one connection, wraps it in
// a Client with a running write pump, and returns the peer side for the test
// to read from.
func dialTestClient(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := NewClient(conn, slog.New(slog.DiscardHandler))
		go client.WritePump()
		accepted <- client
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	client := <-accepted
	t.Cleanup(client.Close)
	return client, peer
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestSendTaskToConnectedAgent(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	client, peer := dialTestClient(t)

	hub.RegisterAgent("lin-1", client)
	assert.True(t, hub.AgentConnected("lin-1"))
	assert.False(t, hub.AgentConnected("lin-2"))

	task := model.Task{ID: uuid.New(), TechniqueID: "T1057", AgentPaw: "lin-1", Command: "ps aux"}
	require.NoError(t, hub.SendTask("lin-1", task))

	env := readEnvelope(t, peer)
	assert.Equal(t, TypeTask, env.Type)

	var got model.Task
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "ps aux", got.Command)
}

func TestSendTaskToUnknownAgent(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	err := hub.SendTask("ghost", model.Task{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrAgentNotConnected)
}

func TestUnregisterOnlyDropsOwnBinding(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	first, _ := dialTestClient(t)
	second, _ := dialTestClient(t)

	hub.RegisterAgent("lin-1", first)
	// Reconnect displaces the first connection.
	hub.RegisterAgent("lin-1", second)
	assert.True(t, hub.AgentConnected("lin-1"))

	// The stale connection's deferred unregister must not evict the new one.
	hub.UnregisterAgent("lin-1", first)
	assert.True(t, hub.AgentConnected("lin-1"))

	hub.UnregisterAgent("lin-1", second)
	assert.False(t, hub.AgentConnected("lin-1"))
}

func TestBroadcastReachesDashboards(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	client, peer := dialTestClient(t)

	hub.RegisterDashboard(client)
	hub.Broadcast("execution_completed", map[string]any{"score": 75.0})

	env := readEnvelope(t, peer)
	assert.Equal(t, TypeEvent, env.Type)

	var payload EventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "execution_completed", payload.Event)
}

func TestConnectedPaws(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	a, _ := dialTestClient(t)
	b, _ := dialTestClient(t)

	hub.RegisterAgent("a-1", a)
	hub.RegisterAgent("b-2", b)

	paws := hub.ConnectedPaws()
	assert.ElementsMatch(t, []string{"a-1", "b-2"}, paws)
}
