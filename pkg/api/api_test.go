package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftwire/pkg/auth"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
	"draftwire/pkg/relay"
	"draftwire/pkg/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *relay.Relay, *store.MemoryStore, func()) {
	t.Helper()
	st := store.NewMemoryStore()
	rl := relay.New(st, relay.Options{QueueCapacity: 64, BacklogLimit: 64})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rl.Run(ctx)
	}()
	router := NewRouter(Options{
		Relay:   rl,
		Store:   st,
		Limiter: auth.NewLimiterPool(auth.LimitConfig{RPS: 1000, Burst: 1000}),
		Ready:   func() bool { return true },
		Version: "test",
	})
	srv := httptest.NewServer(router)
	cleanup := func() {
		srv.Close()
		cancel()
		<-done
	}
	return srv, rl, st, cleanup
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, "test", body["version"])
}

func TestRoomMessagesEndpoint(t *testing.T) {
	srv, _, st, cleanup := newTestServer(t)
	defer cleanup()

	room := store.NewRoomID("alice", "bob")
	require.NoError(t, st.Append(room, models.Message{
		Sender: "alice", Destination: models.ToUser("bob"),
		Content: "hello", ID: "m1", StartTime: 1, EndTime: 2,
	}))

	resp, err := http.Get(srv.URL + "/v1/rooms/bob/alice/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Room     string           `json:"room"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, room.Key(), out.Room, "user order does not matter")
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "hello", out.Messages[0].Content)

	missing, err := http.Get(srv.URL + "/v1/rooms/x/y/messages")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, err := http.Get(srv.URL + "/v1/rooms/alice/bob/messages?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMessageByIDEndpoint(t *testing.T) {
	srv, _, st, cleanup := newTestServer(t)
	defer cleanup()

	room := store.NewRoomID("alice", "bob")
	require.NoError(t, st.Append(room, models.Message{Sender: "alice", ID: "m7", Content: "x", EndTime: 1}))

	resp, err := http.Get(srv.URL + "/v1/messages/m7")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	gone, err := http.Get(srv.URL + "/v1/messages/ghost")
	require.NoError(t, err)
	defer gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func dialUpdates(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates/" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestWebsocketDraftRoundTrip(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	alice := dialUpdates(t, srv, "alice")
	defer alice.Close()
	bob := dialUpdates(t, srv, "bob")
	defer bob.Close()

	start, err := protocol.Encode(protocol.Envelope{
		Content:     protocol.Packet{StartDraft: &protocol.StartDraft{}},
		Destination: models.ToUser("bob"),
	})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, start))

	toBob := readEnvelope(t, bob)
	require.NotNil(t, toBob.Content.NewDraft)
	assert.Equal(t, models.UserID("alice"), toBob.Sender)

	toAlice := readEnvelope(t, alice)
	require.NotNil(t, toAlice.Content.NewDraft)
	assert.Equal(t, toBob.Content.NewDraft.ID, toAlice.Content.NewDraft.ID)
}

func TestWebsocketSecondConnectionRejected(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	first := dialUpdates(t, srv, "alice")
	defer first.Close()

	second := dialUpdates(t, srv, "alice")
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
