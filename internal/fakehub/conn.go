package fakehub

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// conn is one authenticated streaming client.
type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	srv     *Server
	user    hub.ID
	limiter *rateLimiter
	log     zerolog.Logger

	// Guarded by broker.mu.
	closed   bool
	hubs     map[hub.ID]struct{}
	channels map[channelKey]struct{}
}

func newConn(srv *Server, wsConn *websocket.Conn, user hub.ID) *conn {
	return &conn{
		ws:       wsConn,
		send:     make(chan []byte, sendBuffer),
		srv:      srv,
		user:     user,
		limiter:  newRateLimiter(srv.cfg.RateLimit, nil),
		log:      srv.log.With().Str("remote", wsConn.RemoteAddr().String()).Str("user_id", user.String()).Logger(),
		hubs:     make(map[hub.ID]struct{}),
		channels: make(map[channelKey]struct{}),
	}
}

func (c *conn) subscribedLocked(key channelKey) bool {
	if key.channelID == hub.Nil {
		_, ok := c.hubs[key.hubID]
		return ok
	}
	_, ok := c.channels[key]
	return ok
}

func (c *conn) unsubscribeHubLocked(hubID hub.ID) {
	delete(c.hubs, hubID)
	for key := range c.channels {
		if key.hubID == hubID {
			delete(c.channels, key)
		}
	}
}

// handshake reads the identity frame and answers it. It runs before the
// pumps start, so it owns both halves of the socket.
func handshake(wsConn *websocket.Conn, r *http.Request, timeout time.Duration) (hub.ID, error) {
	if err := wsConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return hub.Nil, err
	}
	_, data, err := wsConn.ReadMessage()
	if err != nil {
		return hub.Nil, err
	}
	_ = wsConn.SetReadDeadline(time.Time{})

	user, perr := hub.ParseID(strings.TrimSpace(string(data)))
	if perr == nil && user == hub.Nil {
		perr = errors.New("nil identity")
	}
	if perr == nil {
		if bearer, ok := bearerToken(r); ok && bearer != user.String() {
			perr = errors.New("identity frame does not match authorization header")
		}
	}

	reply := ws.SuccessFrame()
	if perr != nil {
		reply = ws.ErrorFrame(hub.ErrNotAuthenticated)
	}
	payload, err := ws.EncodeFrame(reply)
	if err != nil {
		return hub.Nil, err
	}
	if err := wsConn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return hub.Nil, err
	}
	if err := wsConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return hub.Nil, err
	}
	if perr != nil {
		return hub.Nil, perr
	}
	return user, nil
}

func (c *conn) readPump() {
	defer func() {
		c.srv.broker.leave(c)
		c.closeSocket()
	}()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageSize)
	pongWait := c.srv.cfg.PongWait
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug().Err(err).Msg("set initial read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Clients only answer pings while they read, so their own pings count
	// as liveness too.
	c.ws.SetPingHandler(func(appData string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil && !isExpectedCloseError(err) {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.allow() {
			c.log.Warn().Int("burst", c.srv.cfg.RateLimit.Burst).Msg("rate limit exceeded; rejecting command")
			c.srv.metrics.command("", hub.ErrRateLimited)
			c.reply(ws.ErrorFrame(hub.ErrRateLimited))
			continue
		}
		c.handle(data)
	}
}

func (c *conn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.srv.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("client disconnected")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

// reply queues an acknowledgement. Acks and events share the send queue,
// so acks leave in command order.
func (c *conn) reply(f ws.Frame) {
	payload, err := ws.EncodeFrame(f)
	if err != nil {
		c.log.Error().Err(err).Msg("encode reply")
		return
	}
	if !c.srv.broker.trySend(c, payload) {
		c.log.Warn().Msg("dropping reply; client gone or send buffer full")
		c.closeSocket()
	}
}

// handle executes one command and answers it with exactly one ack.
func (c *conn) handle(data []byte) {
	cmd, err := ws.DecodeCommand(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("invalid command")
		c.srv.metrics.command("", hub.ErrBadRequest)
		c.reply(ws.ErrorFrame(hub.ErrBadRequest))
		return
	}

	followUp, err := c.execute(cmd)
	var code hub.APIError
	if err != nil {
		code = apiError(err)
		c.reply(ws.ErrorFrame(code))
	} else {
		c.reply(ws.SuccessFrame())
	}
	c.srv.metrics.command(cmd.Kind(), code)
	c.log.Debug().Str("command", string(cmd.Kind())).Str("code", string(code)).Msg("command handled")

	if followUp != nil {
		c.srv.broker.publish(*followUp)
	}
}

// execute applies cmd and returns the event it causes, if any.
func (c *conn) execute(cmd ws.Command) (*delivery, error) {
	b, st := c.srv.broker, c.srv.store
	key := channelKey{hubID: cmd.HubID(), channelID: cmd.ChannelID()}

	switch cmd.Kind() {
	case ws.KindSubscribeHub:
		if err := st.requireMember(c.user, cmd.HubID()); err != nil {
			return nil, err
		}
		b.subscribeHub(c, cmd.HubID())
		return nil, nil

	case ws.KindUnsubscribeHub:
		return nil, b.unsubscribeHub(c, cmd.HubID())

	case ws.KindSubscribeChannel:
		if err := st.requireChannel(c.user, cmd.HubID(), cmd.ChannelID()); err != nil {
			return nil, err
		}
		b.subscribeChannel(c, key)
		return nil, nil

	case ws.KindUnsubscribeChannel:
		return nil, b.unsubscribeChannel(c, key)

	case ws.KindSendMessage:
		msg, err := st.sendMessage(c.user, cmd.HubID(), cmd.ChannelID(), cmd.Text())
		if err != nil {
			return nil, err
		}
		return c.event(key, nil, ws.ChatMessage{
			SenderID:  msg.Sender,
			HubID:     msg.HubID,
			ChannelID: msg.ChannelID,
			MessageID: msg.ID,
			Message:   msg.Content,
		})

	case ws.KindStartTyping, ws.KindStopTyping:
		if err := st.requireChannel(c.user, cmd.HubID(), cmd.ChannelID()); err != nil {
			return nil, err
		}
		var ev ws.Event = ws.UserStartedTyping{UserID: c.user, HubID: cmd.HubID(), ChannelID: cmd.ChannelID()}
		if cmd.Kind() == ws.KindStopTyping {
			ev = ws.UserStoppedTyping{UserID: c.user, HubID: cmd.HubID(), ChannelID: cmd.ChannelID()}
		}
		return c.event(key, c, ev)

	default:
		return nil, hub.ErrBadRequest
	}
}

func (c *conn) event(key channelKey, exclude *conn, ev ws.Event) (*delivery, error) {
	payload, err := ws.EncodeFrame(ws.EventFrame(ev))
	if err != nil {
		return nil, hub.ErrInternal
	}
	return &delivery{target: key, exclude: exclude, payload: payload}, nil
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := c.ws.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
					c.log.Debug().Err(err).Msg("write close message")
				}
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("websocket write error")
				}
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-c.srv.broker.ctx.Done():
			return
		}
	}
}

func (c *conn) closeSocket() {
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("close websocket")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}
