package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief.org/internal/notify"
)

func dialWS(t *testing.T, api *apiClient, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(api.baseURL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, bus *notify.Bus, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Subscribers() >= n }, time.Second, 5*time.Millisecond)
}

func TestWebSocketJoinRequiresMatchingRole(t *testing.T) {
	api := newTestAPI(t)
	conn := dialWS(t, api, "citizen-token")
	waitSubscribers(t, api.bus, 1)

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "join", Room: notify.RoomAuthority}))
	var reply controlReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "join_denied", reply.Event)

	// Room events must not reach a subscriber outside the room; broadcasts do.
	api.bus.Publish(notify.Event{Name: notify.EventAdminNotification, Room: notify.RoomAuthority, Data: "secret"})
	api.bus.Publish(notify.Event{Name: notify.EventResourceUpdated, Data: "public"})

	var evt notify.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, notify.EventResourceUpdated, evt.Name)
}

func TestWebSocketAuthorityJoinsRoom(t *testing.T) {
	api := newTestAPI(t)
	conn := dialWS(t, api, "authority-token")
	waitSubscribers(t, api.bus, 1)

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "join", Room: notify.RoomAuthority}))
	var reply controlReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "joined", reply.Event)

	api.bus.Publish(notify.Event{Name: notify.EventAdminNotification, Room: notify.RoomAuthority, Data: "alert"})
	var evt notify.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, notify.EventAdminNotification, evt.Name)
}

func TestWebSocketRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	u := "ws" + strings.TrimPrefix(api.baseURL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsStreamDeliversRoleRoom(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer authority-token")
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitSubscribers(t, api.bus, 1)
	api.bus.Publish(notify.Event{Name: notify.EventAdminNotification, Room: notify.RoomAuthority, Data: map[string]string{"message": "hello"}})

	reader := bufio.NewReader(resp.Body)
	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "data:") {
			got = append(got, line)
		}
	}
	assert.Equal(t, "event: "+notify.EventAdminNotification, got[0])
	assert.Contains(t, got[1], `"message":"hello"`)
}
