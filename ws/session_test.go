package ws_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

func TestHandshakeRejected(t *testing.T) {
	p := newPipe()
	p.push(t, ws.ErrorFrame(hub.ErrNotAuthenticated))

	s, err := ws.NewSession(context.Background(), p, hub.NewID())
	require.Nil(t, s)

	var cerr *ws.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, hub.ErrNotAuthenticated, cerr.Code)
	assert.ErrorIs(t, err, hub.ErrNotAuthenticated)

	select {
	case <-p.closed:
	default:
		t.Fatal("transport left open after rejected handshake")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	p := newPipe()

	_, err := ws.NewSession(context.Background(), p, hub.NewID(), ws.WithHandshakeTimeout(20*time.Millisecond))
	var cerr *ws.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandshakeUnexpectedEvent(t *testing.T) {
	p := newPipe()
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hub.NewID(), Update: ws.HubUpdate{Kind: ws.UpdateHubDeleted}}))

	_, err := ws.NewSession(context.Background(), p, hub.NewID())
	var cerr *ws.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "HubUpdated")
}

func TestCommandsWithoutLoopAreFireAndForget(t *testing.T) {
	s, p, _ := connectPipe(t)
	hubID, channelID := hub.NewID(), hub.NewID()

	require.NoError(t, s.SubscribeHub(context.Background(), hubID))
	require.NoError(t, s.SendMessage(context.Background(), hubID, channelID, "hi"))

	assert.Equal(t, ws.SubscribeHub(hubID), p.next(t))
	assert.Equal(t, ws.SendMessage(hubID, channelID, "hi"), p.next(t))
	assert.False(t, s.Running())
}

func TestRepliesDeliveredInIssuanceOrder(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))
	hubID, channelID := hub.NewID(), hub.NewID()

	for i := 0; i < 5; i++ {
		done := make(chan error, 1)
		text := fmt.Sprintf("message %d", i)
		go func() { done <- s.SendMessage(context.Background(), hubID, channelID, text) }()

		require.Equal(t, ws.SendMessage(hubID, channelID, text), p.next(t))
		if i%2 == 0 {
			p.push(t, ws.SuccessFrame())
			require.NoError(t, waitErr(t, done))
			continue
		}
		code := hub.APIError(fmt.Sprintf("Rejected%d", i))
		p.push(t, ws.ErrorFrame(code))
		err := waitErr(t, done)
		var derr *ws.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, code, derr.Code)
		assert.Equal(t, ws.KindSendMessage, derr.Command)
	}

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	r := waitLoop(t, loop)
	require.NoError(t, r.err)
	assert.Equal(t, hubID, r.value)
}

func TestConcurrentCommandsGetTheirOwnReplies(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))
	hubID, channelID := hub.NewID(), hub.NewID()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SendMessage(context.Background(), hubID, channelID, fmt.Sprintf("m%d", i))
		}(i)
	}

	// The server answers each command with an error code naming it.
	for i := 0; i < n; i++ {
		cmd := p.next(t)
		p.push(t, ws.ErrorFrame(hub.APIError(cmd.Text())))
	}
	wg.Wait()

	for i, err := range errs {
		var derr *ws.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, hub.APIError(fmt.Sprintf("m%d", i)), derr.Code)
	}

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)
}

func TestPushEventDoesNotSatisfyPendingCommand(t *testing.T) {
	s, p, self := connectPipe(t)
	rec := newRecorder(self)
	loop := startLoop[hub.ID](t, context.Background(), s, rec)
	hubID := hub.NewID()

	done := make(chan error, 1)
	go func() { done <- s.SubscribeHub(context.Background(), hubID) }()
	require.Equal(t, ws.SubscribeHub(hubID), p.next(t))

	msg := ws.ChatMessage{
		SenderID:  hub.NewID(),
		HubID:     hubID,
		ChannelID: hub.NewID(),
		MessageID: hub.NewID(),
		Message:   "hello",
	}
	p.push(t, ws.EventFrame(msg))

	select {
	case ev := <-rec.events:
		assert.Equal(t, msg, ev)
	case <-time.After(waitTimeout):
		t.Fatal("push event not delivered to handler")
	}
	select {
	case err := <-done:
		t.Fatalf("command resolved by a push event: %v", err)
	default:
	}

	p.push(t, ws.SuccessFrame())
	require.NoError(t, waitErr(t, done))

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)
}

func TestHandlerStopEndsLoopWithoutFurtherReads(t *testing.T) {
	s, p, self := connectPipe(t)
	hubID := hub.NewID()

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserJoined(self)}))
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	p.push(t, ws.EventFrame(ws.ChatMessage{HubID: hubID, Message: "late"}))

	left, err := ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	require.NoError(t, err)
	assert.Equal(t, hubID, left)
	assert.Len(t, p.toClient, 1, "frame read after the handler stopped the loop")
	assert.False(t, s.Running())
	assert.NoError(t, s.Err())
}

func TestLoopStopWakesAwaitingCommand(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))
	hubID := hub.NewID()

	done := make(chan error, 1)
	go func() { done <- s.SubscribeHub(context.Background(), hubID) }()
	p.next(t)

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)

	err := waitErr(t, done)
	var lerr *ws.LoopClosedError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, ws.ErrLoopStopped)
}

func TestTransportCloseWakesAwaitingCommand(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))

	done := make(chan error, 1)
	go func() { done <- s.SubscribeHub(context.Background(), hub.NewID()) }()
	p.next(t)

	require.NoError(t, p.Close())

	r := waitLoop(t, loop)
	var terr *ws.TransportError
	require.ErrorAs(t, r.err, &terr)
	assert.Equal(t, "read", terr.Op)

	err := waitErr(t, done)
	var lerr *ws.LoopClosedError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorAs(t, err, &terr)

	<-s.Done()
	assert.ErrorIs(t, s.SubscribeHub(context.Background(), hub.NewID()), ws.ErrSessionClosed)
}

func TestCloseWakesAwaitingCommand(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))

	done := make(chan error, 1)
	go func() { done <- s.SubscribeHub(context.Background(), hub.NewID()) }()
	p.next(t)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, waitLoop(t, loop).err, ws.ErrSessionClosed)

	err := waitErr(t, done)
	var lerr *ws.LoopClosedError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, ws.ErrSessionClosed)
}

func TestUnsolicitedAckIsFatal(t *testing.T) {
	s, p, self := connectPipe(t)
	p.push(t, ws.ErrorFrame(hub.ErrNotInHub))

	_, err := ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	var derr *ws.DesyncError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, hub.ErrNotInHub, derr.Frame.Code)

	<-s.Done()
	assert.ErrorIs(t, s.Err(), err)
	_, err = ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	assert.ErrorIs(t, err, ws.ErrSessionClosed)
}

func TestUndecodableFrameIsFatal(t *testing.T) {
	s, p, self := connectPipe(t)
	p.pushRaw(`{"Mystery":{}}`)

	_, err := ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	var perr *ws.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, `{"Mystery":{}}`, string(perr.Frame))
	<-s.Done()
}

func TestRunRejectsSecondLoop(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))

	_, err := ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	assert.ErrorIs(t, err, ws.ErrLoopRunning)

	hubID := hub.NewID()
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)

	// A stopped loop can be started again on the same session.
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	left, err := ws.Run[hub.ID](context.Background(), s, newRecorder(self))
	require.NoError(t, err)
	assert.Equal(t, hubID, left)
}

func TestAckForCommandIssuedBeforeLoopIsDiscarded(t *testing.T) {
	s, p, self := connectPipe(t)
	hubID, channelID := hub.NewID(), hub.NewID()

	require.NoError(t, s.SubscribeHub(context.Background(), hubID))
	p.next(t)
	// The answer to the fire-and-forget command is still in flight when
	// the loop starts.
	p.push(t, ws.ErrorFrame(hub.ErrHubNotFound))

	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))

	done := make(chan error, 1)
	go func() { done <- s.SubscribeChannel(context.Background(), hubID, channelID) }()
	require.Equal(t, ws.SubscribeChannel(hubID, channelID), p.next(t))
	p.push(t, ws.SuccessFrame())
	require.NoError(t, waitErr(t, done))

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)
}

func TestCancelledCommandDoesNotShiftReplies(t *testing.T) {
	s, p, self := connectPipe(t)
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))
	hubID, channelID := hub.NewID(), hub.NewID()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- s.SubscribeHub(ctx, hubID) }()
	p.next(t)
	cancel()
	assert.ErrorIs(t, waitErr(t, first), context.Canceled)

	second := make(chan error, 1)
	go func() { second <- s.SubscribeChannel(context.Background(), hubID, channelID) }()
	p.next(t)

	p.push(t, ws.ErrorFrame(hub.ErrBanned)) // answer to the abandoned command
	p.push(t, ws.SuccessFrame())
	require.NoError(t, waitErr(t, second))

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)
}

func TestHandlerCommandsDoNotWait(t *testing.T) {
	s, p, self := connectPipe(t)
	hubID, channelID := hub.NewID(), hub.NewID()

	handler := ws.HandlerFunc[int](func(ctx context.Context, c ws.Commander, ev ws.Event) ws.Decision[int] {
		switch ev := ev.(type) {
		case ws.ChatMessage:
			if err := c.SendMessage(ctx, ev.HubID, ev.ChannelID, "echo: "+ev.Message); err != nil {
				return ws.Stop(-1)
			}
		case ws.HubUpdated:
			return ws.Stop(1)
		}
		return ws.Continue[int]()
	})
	loop := startLoop[int](t, context.Background(), s, handler)

	p.push(t, ws.EventFrame(ws.ChatMessage{SenderID: hub.NewID(), HubID: hubID, ChannelID: channelID, Message: "ping"}))
	assert.Equal(t, ws.SendMessage(hubID, channelID, "echo: ping"), p.next(t))

	// The echo's answer is consumed by the loop, not handed to anyone.
	p.push(t, ws.ErrorFrame(hub.ErrMuted))
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))

	r := waitLoop(t, loop)
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.value)
}

func TestContextCancelClosesSession(t *testing.T) {
	s, _, self := connectPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	loop := startLoop[hub.ID](t, ctx, s, newRecorder(self))

	cancel()
	assert.ErrorIs(t, waitLoop(t, loop).err, context.Canceled)
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session not closed after context cancellation")
	}
}

func TestCancelBeforeStopReportsCancellation(t *testing.T) {
	s, p, _ := connectPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.push(t, ws.EventFrame(ws.UserStartedTyping{UserID: hub.NewID(), HubID: hub.NewID(), ChannelID: hub.NewID()}))

	_, err := ws.Run(ctx, s, ws.HandlerFunc[int](func(context.Context, ws.Commander, ws.Event) ws.Decision[int] {
		cancel()
		return ws.Stop(1)
	}))
	assert.ErrorIs(t, err, context.Canceled)
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session not closed after context cancellation")
	}
}

func TestCancelAfterStopKeepsSessionOpen(t *testing.T) {
	s, p, _ := connectPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	p.push(t, ws.EventFrame(ws.UserStartedTyping{UserID: hub.NewID(), HubID: hub.NewID(), ChannelID: hub.NewID()}))

	v, err := ws.Run(ctx, s, ws.HandlerFunc[int](func(context.Context, ws.Commander, ws.Event) ws.Decision[int] {
		return ws.Stop(1)
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	cancel()
	assert.Never(t, func() bool { return s.Err() != nil }, 50*time.Millisecond, time.Millisecond)
}

func TestWaitRunning(t *testing.T) {
	s, p, self := connectPipe(t)
	ctx := context.Background()

	waited := make(chan error, 1)
	go func() { waited <- s.WaitRunning(ctx) }()
	select {
	case err := <-waited:
		t.Fatalf("WaitRunning returned %v before a loop started", err)
	case <-time.After(20 * time.Millisecond):
	}

	loop := startLoop[hub.ID](t, ctx, s, newRecorder(self))
	require.NoError(t, waitErr(t, waited))
	require.NoError(t, s.WaitRunning(ctx), "returns at once while running")

	hubID := hub.NewID()
	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitRunning(cctx), context.DeadlineExceeded, "a stopped loop does not count")

	go func() { waited <- s.WaitRunning(ctx) }()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, waitErr(t, waited), ws.ErrSessionClosed)
	assert.ErrorIs(t, s.WaitRunning(ctx), ws.ErrSessionClosed)
}

func TestUnawaitedAcksDrainWhenLoopRuns(t *testing.T) {
	s, p, self := connectPipe(t)
	ctx := context.Background()
	hubID, channelID := hub.NewID(), hub.NewID()

	const backlog = 200
	for i := 0; i < backlog; i++ {
		require.NoError(t, s.SendMessage(ctx, hubID, channelID, "queued"))
		p.next(t)
	}

	loop := startLoop[hub.ID](t, ctx, s, newRecorder(self))
	for i := 0; i < backlog; i++ {
		p.push(t, ws.SuccessFrame())
	}

	// The next awaited command gets its own answer, not a queued one.
	errs := make(chan error, 1)
	go func() { errs <- s.SubscribeHub(ctx, hubID) }()
	assert.Equal(t, ws.KindSubscribeHub, p.next(t).Kind())
	p.push(t, ws.ErrorFrame(hub.ErrHubNotFound))
	assert.ErrorIs(t, waitErr(t, errs), hub.ErrHubNotFound)

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)
}

func TestWriteFailureClosesSession(t *testing.T) {
	s, p, _ := connectPipe(t)
	require.NoError(t, p.Close())

	err := s.SubscribeHub(context.Background(), hub.NewID())
	var terr *ws.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)

	<-s.Done()
	err = s.SubscribeHub(context.Background(), hub.NewID())
	assert.ErrorIs(t, err, ws.ErrSessionClosed)
	assert.Contains(t, err.Error(), "transport write")
}

func TestInvalidCommandIsRejectedBeforeSending(t *testing.T) {
	s, p, _ := connectPipe(t)

	err := s.SubscribeChannel(context.Background(), hub.NewID(), hub.Nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing channel id")
	assert.Len(t, p.fromClient, 0)
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, p, self := connectPipe(t, ws.WithRegisterer(reg))
	loop := startLoop[hub.ID](t, context.Background(), s, newRecorder(self))
	hubID := hub.NewID()

	done := make(chan error, 1)
	go func() { done <- s.SubscribeHub(context.Background(), hubID) }()
	p.next(t)
	p.push(t, ws.ErrorFrame(hub.ErrNotInHub))
	assert.ErrorIs(t, waitErr(t, done), hub.ErrNotInHub)

	p.push(t, ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: ws.UserLeft(self)}))
	require.NoError(t, waitLoop(t, loop).err)

	assert.Equal(t, 1.0, metricValue(t, reg, "hubchat_ws_frames_sent_total", "command", "SubscribeHub"))
	assert.Equal(t, 1.0, metricValue(t, reg, "hubchat_ws_command_outcomes_total", "outcome", "rejected"))
	assert.Equal(t, 1.0, metricValue(t, reg, "hubchat_ws_frames_received_total", "kind", "event"))
	assert.Equal(t, 0.0, metricValue(t, reg, "hubchat_ws_dispatch_loops_running", "", ""))

	// A second session on the same registry shares the collectors.
	s2, _, _ := connectPipe(t, ws.WithRegisterer(reg))
	require.NoError(t, s2.SubscribeHub(context.Background(), hubID))
	assert.Equal(t, 2.0, metricValue(t, reg, "hubchat_ws_frames_sent_total", "command", "SubscribeHub"))
}

func metricValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" && !hasLabel(m.GetLabel(), label, value) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func hasLabel[L interface {
	GetName() string
	GetValue() string
}](labels []L, name, value string) bool {
	for _, l := range labels {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

func TestDomainErrorMatchesCode(t *testing.T) {
	err := error(&ws.DomainError{Command: ws.KindSubscribeHub, Code: hub.ErrNotInHub})
	assert.True(t, errors.Is(err, hub.ErrNotInHub))
	assert.False(t, errors.Is(err, hub.ErrBanned))
	assert.Equal(t, "ws: SubscribeHub rejected: NotInHub", err.Error())
}
