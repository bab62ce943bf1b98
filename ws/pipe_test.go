package ws_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

const waitTimeout = 2 * time.Second

// pipeTransport is an in-memory Transport. The test plays the server: it
// queues frames with push and reads what the client wrote with next.
type pipeTransport struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (p *pipeTransport) ReadFrame() ([]byte, error) {
	select {
	case <-p.closed:
		return nil, io.EOF
	default:
	}
	select {
	case data := <-p.toClient:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) WriteFrame(data []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.fromClient <- append([]byte(nil), data...):
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) push(t *testing.T, f ws.Frame) {
	t.Helper()
	data, err := ws.EncodeFrame(f)
	require.NoError(t, err)
	p.toClient <- data
}

func (p *pipeTransport) pushRaw(data string) {
	p.toClient <- []byte(data)
}

func (p *pipeTransport) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-p.fromClient:
		return data
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func (p *pipeTransport) next(t *testing.T) ws.Command {
	t.Helper()
	cmd, err := ws.DecodeCommand(p.nextRaw(t))
	require.NoError(t, err)
	return cmd
}

// connectPipe opens a session over a pipe whose server side accepts the
// handshake.
func connectPipe(t *testing.T, opts ...ws.Option) (*ws.Session, *pipeTransport, hub.ID) {
	t.Helper()
	p := newPipe()
	identity := hub.NewID()
	p.push(t, ws.SuccessFrame())

	s, err := ws.NewSession(context.Background(), p, identity, opts...)
	require.NoError(t, err)
	require.Equal(t, identity.String(), string(p.nextRaw(t)))
	t.Cleanup(func() { _ = s.Close() })
	return s, p, identity
}

type loopResult[R any] struct {
	value R
	err   error
}

// startLoop runs the dispatch loop in the background and waits until it
// is running.
func startLoop[R any](t *testing.T, ctx context.Context, s *ws.Session, h ws.Handler[R]) <-chan loopResult[R] {
	t.Helper()
	out := make(chan loopResult[R], 1)
	go func() {
		v, err := ws.Run(ctx, s, h)
		out <- loopResult[R]{value: v, err: err}
	}()
	require.Eventually(t, s.Running, waitTimeout, time.Millisecond)
	return out
}

func waitLoop[R any](t *testing.T, ch <-chan loopResult[R]) loopResult[R] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("dispatch loop did not end")
		return loopResult[R]{}
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("command did not resolve")
		return nil
	}
}

// recorder is a handler that forwards every event and stops when told the
// given user left a hub.
type recorder struct {
	self   hub.ID
	events chan ws.Event
}

func newRecorder(self hub.ID) *recorder {
	return &recorder{self: self, events: make(chan ws.Event, 64)}
}

func (r *recorder) HandleEvent(_ context.Context, _ ws.Commander, ev ws.Event) ws.Decision[hub.ID] {
	r.events <- ev
	if u, ok := ev.(ws.HubUpdated); ok && u.Update == ws.UserLeft(r.self) {
		return ws.Stop(u.HubID)
	}
	return ws.Continue[hub.ID]()
}
