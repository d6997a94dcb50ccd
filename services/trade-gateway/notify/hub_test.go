package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, party string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?party=" + party
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubRoutesByParty(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("party"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice := dial(t, ctx, srv, "alice")
	bob := dial(t, ctx, srv, "bob")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Emit(EventTradeUpdated, map[string]string{"id": "t1"}, "alice")
	hub.Emit(EventListingDeleted, map[string]string{"id": "l1"}, "")

	first := readMessage(t, ctx, alice)
	require.Equal(t, EventTradeUpdated, first.Event)
	second := readMessage(t, ctx, alice)
	require.Equal(t, EventListingDeleted, second.Event)

	onlyBob := readMessage(t, ctx, bob)
	require.Equal(t, EventListingDeleted, onlyBob.Event)
}

func TestHubEmitDoesNotBlockOnSlowClients(t *testing.T) {
	hub := NewHub(nil)
	c := &client{party: "p", send: make(chan []byte, 1)}
	hub.register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.Emit(EventTradeUpdated, i, "p")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full client buffer")
	}
	require.Len(t, c.send, 1)
	hub.unregister(c)
	require.Zero(t, hub.Clients())
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	n.Emit(EventListingCreated, nil, "")
}
