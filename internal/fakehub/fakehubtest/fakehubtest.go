// Package fakehubtest starts fake hub servers for tests and provides raw
// streaming helpers for asserting wire behaviour.
package fakehubtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/internal/fakehub"
	"github.com/Tyrowin/hubchat/rest"
	"github.com/Tyrowin/hubchat/ws"
)

// Timeout bounds every blocking helper.
const Timeout = 5 * time.Second

// Hub is a fake hub served over a local httptest server.
type Hub struct {
	*fakehub.Server
	HTTP *httptest.Server
}

// Start runs a fake hub that accepts any origin and logs nothing. configure
// may adjust the config before the server is built. Both servers are
// closed when the test ends.
func Start(t testing.TB, configure ...func(*fakehub.Config)) *Hub {
	t.Helper()
	cfg := fakehub.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	nop := zerolog.Nop()
	cfg.Logger = &nop
	for _, fn := range configure {
		fn(&cfg)
	}

	srv := fakehub.New(cfg)
	h := &Hub{Server: srv, HTTP: httptest.NewServer(srv.Handler())}
	t.Cleanup(func() {
		_ = srv.Close()
		h.HTTP.Close()
	})
	return h
}

// APIURL is the endpoint clients are configured with.
func (h *Hub) APIURL() string {
	return h.HTTP.URL + "/api"
}

// WebsocketURL is the streaming endpoint.
func (h *Hub) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(h.HTTP.URL, "http") + "/api/websocket"
}

// Client returns a REST client authenticated as user.
func (h *Hub) Client(user hub.ID) *rest.Client {
	return rest.NewClient(h.APIURL(), rest.WithToken(user.String()), rest.WithLogger(zerolog.Nop()))
}

// Seed creates a hub owned by owner with one channel.
func (h *Hub) Seed(t testing.TB, owner hub.ID) (hubID, channelID hub.ID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	c := h.Client(owner)
	hubID, err := c.HubCreate(ctx, "test hub")
	require.NoError(t, err)
	channelID, err = c.ChannelCreate(ctx, hubID, "general")
	require.NoError(t, err)
	return hubID, channelID
}

// Join adds user to hubID.
func (h *Hub) Join(t testing.TB, user, hubID hub.ID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, h.Client(user).HubJoin(ctx, hubID))
}

// Dial opens a raw socket without sending the identity frame.
func (h *Hub) Dial(header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: Timeout}
	conn, resp, err := dialer.Dial(h.WebsocketURL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Login opens a raw socket for user and completes the handshake.
func (h *Hub) Login(t testing.TB, user hub.ID) *websocket.Conn {
	t.Helper()
	conn, _, err := h.Dial(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(user.String())))
	require.Equal(t, ws.SuccessFrame(), ReadFrame(t, conn))
	return conn
}

// Send writes cmd to conn.
func Send(t testing.TB, conn *websocket.Conn, cmd ws.Command) {
	t.Helper()
	data, err := ws.EncodeCommand(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// ReadFrame reads and decodes the next frame on conn.
func ReadFrame(t testing.TB, conn *websocket.Conn) ws.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(Timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := ws.DecodeFrame(data)
	require.NoError(t, err)
	return f
}

// Expect sends cmd and requires the ack that follows.
func Expect(t testing.TB, conn *websocket.Conn, cmd ws.Command, want ws.Frame) {
	t.Helper()
	Send(t, conn, cmd)
	require.Equal(t, want, ReadFrame(t, conn))
}

// Quiet requires that no frame arrives on conn within d. conn is not
// usable for reads afterwards.
func Quiet(t testing.TB, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}
