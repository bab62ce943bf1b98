package ws

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/hubchat/hub"
)

// Transport is a bidirectional, ordered stream of text frames. ReadFrame
// and WriteFrame may be called concurrently with each other, but each
// must only be called by one goroutine at a time. Close may be called
// concurrently with both and unblocks a pending ReadFrame.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// websocketPath is appended to the API endpoint to reach the streaming
// socket.
const websocketPath = "/websocket"

// websocketURL maps an API endpoint (http, https, ws or wss) to the URL
// of the streaming socket.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", endpoint)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("endpoint %q: missing host", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + websocketPath
	return u.String(), nil
}

// AuthorizationHeader is the value sent in the Authorization header for
// an identity.
func AuthorizationHeader(identity hub.ID) string {
	return "Bearer " + identity.String()
}

func dial(ctx context.Context, endpoint string, identity hub.ID, cfg Config) (*wsTransport, error) {
	target, err := websocketURL(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	header := http.Header{}
	if cfg.AuthHeader {
		header.Set("Authorization", AuthorizationHeader(identity))
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		cerr := &ConnectionError{Endpoint: target, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		return nil, cerr
	}
	return newWebsocketTransport(conn, cfg), nil
}

// wsTransport adapts a gorilla connection. gorilla allows one concurrent
// reader and one concurrent writer; WriteControl and Close may be called
// from any goroutine, which is what the keepalive pinger relies on.
type wsTransport struct {
	conn *websocket.Conn
	cfg  Config
	log  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWebsocketTransport(conn *websocket.Conn, cfg Config) *wsTransport {
	t := &wsTransport{
		conn: conn,
		cfg:  cfg,
		log:  cfg.logger().With().Str("remote", conn.RemoteAddr().String()).Logger(),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(cfg.MaxFrameSize)
	if cfg.PingInterval > 0 {
		t.setupKeepalive()
		go t.pingLoop()
	}
	return t
}

// setupKeepalive installs the pong handler. The read deadline is armed by
// ReadFrame: gorilla only processes pongs while a read is pending, and an
// idle session without a dispatch loop reads nothing.
func (t *wsTransport) setupKeepalive() {
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteWait)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !isExpectedCloseError(err) {
					t.log.Warn().Err(err).Msg("ws ping failed")
				}
				return
			}
		}
	}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	if t.cfg.PingInterval > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait)); err != nil {
			return nil, errors.Wrap(err, "set read deadline")
		}
	}
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteWait)); werr != nil && !isExpectedCloseError(werr) {
			t.log.Debug().Err(werr).Msg("write close frame")
		}
		if cerr := t.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
