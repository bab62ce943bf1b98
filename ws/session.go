package ws

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/hubchat/hub"
)

// Commander issues commands on a session. It is the only handle to a
// session that handlers receive; the connection itself is never exposed.
type Commander interface {
	Identity() hub.ID
	Issue(ctx context.Context, cmd Command) error
	SubscribeHub(ctx context.Context, hubID hub.ID) error
	UnsubscribeHub(ctx context.Context, hubID hub.ID) error
	SubscribeChannel(ctx context.Context, hubID, channelID hub.ID) error
	UnsubscribeChannel(ctx context.Context, hubID, channelID hub.ID) error
	SendMessage(ctx context.Context, hubID, channelID hub.ID, text string) error
	StartTyping(ctx context.Context, hubID, channelID hub.ID) error
	StopTyping(ctx context.Context, hubID, channelID hub.ID) error
}

type loopState uint8

const (
	stateIdle loopState = iota
	stateRunning
	stateStopped
)

// loopRun is one execution of the dispatch loop. err is written before
// done is closed.
type loopRun struct {
	done chan struct{}
	err  error
}

// expectation is the slot for one written command's acknowledgement.
// reply is nil when nobody waits for the outcome.
type expectation struct {
	cmd   Command
	reply chan error
}

// Session is an open streaming connection for one identity.
//
// Every command written keeps a slot until its acknowledgement is read,
// which only a running loop does. Commands sent with no loop running are
// cheap but their slots accumulate until the next Run.
//
// Lock order: issueMu, then writeMu, then mu. recvMu is only taken by the
// dispatch loop and never together with the others.
type Session struct {
	issuer

	identity  hub.ID
	endpoint  string
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics
	transport Transport

	issueMu sync.Mutex // one awaited command at a time, from send to outcome
	writeMu sync.Mutex // send half
	recvMu  sync.Mutex // receive half

	mu    sync.Mutex
	state loopState
	run   *loopRun
	// started is closed when a loop starts and replaced when it stops.
	started chan struct{}
	// expect holds one entry per written command whose ack has not been
	// read yet. Without a running loop nothing reads acks, so it grows
	// with every fire-and-forget command until the next Run drains it.
	expect []*expectation
	closed bool
	cause  error
	done   chan struct{}
}

var _ Commander = (*Session)(nil)

// Connect dials the hub's streaming socket under endpoint (for example
// "http://localhost:8080/api"), identifies as identity and waits for the
// server to accept. The returned session has no dispatch loop running.
func Connect(ctx context.Context, identity hub.ID, endpoint string, opts ...Option) (*Session, error) {
	cfg := newConfig(opts)
	t, err := dial(ctx, endpoint, identity, cfg)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, t, identity, endpoint, cfg)
}

// NewSession performs the identity handshake over an already open
// transport.
func NewSession(ctx context.Context, t Transport, identity hub.ID, opts ...Option) (*Session, error) {
	return newSession(ctx, t, identity, "", newConfig(opts))
}

func newSession(ctx context.Context, t Transport, identity hub.ID, endpoint string, cfg Config) (*Session, error) {
	s := &Session{
		identity:  identity,
		endpoint:  endpoint,
		cfg:       cfg,
		metrics:   newMetrics(cfg.Registerer),
		transport: t,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.issuer = issuer{s: s, awaits: true}
	s.log = cfg.logger().With().
		Str("component", "ws").
		Str("user_id", identity.String()).
		Str("endpoint", endpoint).
		Logger()

	if err := s.handshake(ctx); err != nil {
		_ = t.Close()
		s.log.Debug().Err(err).Msg("ws handshake failed")
		return nil, err
	}
	s.log.Info().Msg("ws session opened")
	return s, nil
}

// handshake sends the identity frame and reads the server's answer.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.transport.WriteFrame([]byte(s.identity.String())); err != nil {
		return &ConnectionError{Endpoint: s.endpoint, Err: errors.Wrap(err, "send identity")}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := s.transport.ReadFrame()
		ch <- result{data: data, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		_ = s.transport.Close()
		return &ConnectionError{Endpoint: s.endpoint, Err: errors.Wrap(ctx.Err(), "await handshake")}
	}
	if r.err != nil {
		return &ConnectionError{Endpoint: s.endpoint, Err: errors.Wrap(r.err, "await handshake")}
	}

	frame, err := DecodeFrame(r.data)
	if err != nil {
		return &ConnectionError{Endpoint: s.endpoint, Err: &ProtocolError{Frame: r.data, Err: err}}
	}
	switch frame.Kind {
	case FrameSuccess:
		return nil
	case FrameError:
		return &ConnectionError{Endpoint: s.endpoint, Code: frame.Code}
	default:
		return &ConnectionError{
			Endpoint: s.endpoint,
			Err:      errors.Errorf("unexpected %s frame during handshake", frame.Event.EventName()),
		}
	}
}

// Identity returns the user the session is authenticated as.
func (s *Session) Identity() hub.ID { return s.identity }

// Running reports whether a dispatch loop is currently running.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// WaitRunning blocks until a dispatch loop is running on s, s is closed
// or ctx is done. Commands issued after it returns nil are awaited unless
// the loop has ended again in the meantime.
func (s *Session) WaitRunning(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		err := s.rejectLocked()
		s.mu.Unlock()
		return err
	}
	started := s.started
	s.mu.Unlock()

	select {
	case <-started:
		return nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rejectLocked()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the session is closed, by Close or by a fatal error.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns nil while the session is open, ErrSessionClosed after
// Close, and the fatal error that closed it otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedErrLocked()
}

func (s *Session) closedErrLocked() error {
	if !s.closed {
		return nil
	}
	if s.cause != nil {
		return s.cause
	}
	return ErrSessionClosed
}

// rejectLocked is the error returned to operations attempted after the
// session closed. It matches ErrSessionClosed and names the cause.
func (s *Session) rejectLocked() error {
	if s.cause == nil {
		return ErrSessionClosed
	}
	return errors.WithMessage(ErrSessionClosed, s.cause.Error())
}

// Close closes the connection. A running dispatch loop returns
// ErrSessionClosed and commands waiting for an answer fail with a
// LoopClosedError.
func (s *Session) Close() error {
	return s.shutdown(nil)
}

func (s *Session) shutdown(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed, s.cause = true, cause
	s.mu.Unlock()

	err := s.transport.Close()
	close(s.done)
	if cause != nil {
		s.log.Warn().Err(cause).Msg("ws session closed")
	} else {
		s.log.Info().Msg("ws session closed")
	}
	return err
}

// issuer implements Commander. Sessions await outcomes while a dispatch
// loop runs; the commander handed to handlers never does.
type issuer struct {
	s      *Session
	awaits bool
}

func (i issuer) Identity() hub.ID { return i.s.identity }

// Issue sends cmd. While a dispatch loop runs on the session (and the
// issuer is not the loop's own), Issue blocks until the server answers
// and returns a *DomainError if it rejected the command. Otherwise it
// returns as soon as the frame is written.
func (i issuer) Issue(ctx context.Context, cmd Command) error {
	return i.s.issue(ctx, cmd, i.awaits)
}

func (i issuer) SubscribeHub(ctx context.Context, hubID hub.ID) error {
	return i.Issue(ctx, SubscribeHub(hubID))
}

func (i issuer) UnsubscribeHub(ctx context.Context, hubID hub.ID) error {
	return i.Issue(ctx, UnsubscribeHub(hubID))
}

func (i issuer) SubscribeChannel(ctx context.Context, hubID, channelID hub.ID) error {
	return i.Issue(ctx, SubscribeChannel(hubID, channelID))
}

func (i issuer) UnsubscribeChannel(ctx context.Context, hubID, channelID hub.ID) error {
	return i.Issue(ctx, UnsubscribeChannel(hubID, channelID))
}

func (i issuer) SendMessage(ctx context.Context, hubID, channelID hub.ID, text string) error {
	return i.Issue(ctx, SendMessage(hubID, channelID, text))
}

func (i issuer) StartTyping(ctx context.Context, hubID, channelID hub.ID) error {
	return i.Issue(ctx, StartTyping(hubID, channelID))
}

func (i issuer) StopTyping(ctx context.Context, hubID, channelID hub.ID) error {
	return i.Issue(ctx, StopTyping(hubID, channelID))
}

func (s *Session) issue(ctx context.Context, cmd Command, mayAwait bool) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if mayAwait {
		s.issueMu.Lock()
		defer s.issueMu.Unlock()
	}

	exp, run, err := s.send(cmd, data, mayAwait)
	if err != nil {
		return err
	}
	if exp.reply == nil {
		return nil
	}
	return s.await(ctx, exp, run)
}

// send queues the expectation for cmd and writes it. The decision to
// await is taken under mu, the same lock that starts and stops the loop,
// and the expectation is queued before the write so the loop can never
// see the answer first.
func (s *Session) send(cmd Command, data []byte, mayAwait bool) (*expectation, *loopRun, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		err := s.rejectLocked()
		s.mu.Unlock()
		return nil, nil, err
	}
	exp := &expectation{cmd: cmd}
	var run *loopRun
	if mayAwait && s.state == stateRunning {
		exp.reply = make(chan error, 1)
		run = s.run
	}
	s.expect = append(s.expect, exp)
	s.mu.Unlock()

	if err := s.transport.WriteFrame(data); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		_ = s.shutdown(terr)
		return nil, nil, terr
	}
	s.metrics.frameSent(cmd.Kind())
	s.log.Debug().
		Str("command", string(cmd.Kind())).
		Bool("awaited", exp.reply != nil).
		Msg("ws command sent")
	return exp, run, nil
}

func (s *Session) await(ctx context.Context, exp *expectation, run *loopRun) error {
	select {
	case err := <-exp.reply:
		return err
	case <-run.done:
		// The loop may have resolved the expectation just before stopping.
		select {
		case err := <-exp.reply:
			return err
		default:
		}
		s.metrics.outcome(outcomeLoopClosed)
		return &LoopClosedError{Err: run.err}
	case <-ctx.Done():
		// The loop still consumes the answer in order; it lands in the
		// buffered reply channel and is dropped.
		return ctx.Err()
	}
}

// resolve hands an acknowledgement to the oldest outstanding command.
func (s *Session) resolve(f Frame) error {
	s.mu.Lock()
	if len(s.expect) == 0 {
		s.mu.Unlock()
		return &DesyncError{Frame: f}
	}
	exp := s.expect[0]
	s.expect[0] = nil
	s.expect = s.expect[1:]
	s.mu.Unlock()

	var outcome error
	result := outcomeSuccess
	if f.Kind == FrameError {
		outcome = &DomainError{Command: exp.cmd.Kind(), Code: f.Code}
		result = outcomeRejected
	}

	if exp.reply != nil {
		s.metrics.outcome(result)
		exp.reply <- outcome
		return nil
	}

	s.metrics.outcome(outcomeDiscarded)
	if outcome != nil {
		s.log.Warn().Err(outcome).Str("command", string(exp.cmd.Kind())).Msg("ws unawaited command rejected")
	} else {
		s.log.Debug().Str("command", string(exp.cmd.Kind())).Msg("ws unawaited command acknowledged")
	}
	return nil
}

func (s *Session) startLoop() (*loopRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.rejectLocked()
	}
	if s.state == stateRunning {
		return nil, ErrLoopRunning
	}
	run := &loopRun{done: make(chan struct{})}
	s.state, s.run = stateRunning, run
	close(s.started)
	s.metrics.loopStarted()
	return run, nil
}

// stopLoop moves the session out of the running state and wakes every
// command waiting on run. A nil err means the handler stopped the loop.
func (s *Session) stopLoop(run *loopRun, err error) {
	s.mu.Lock()
	if s.run == run {
		s.state, s.run = stateStopped, nil
		s.started = make(chan struct{})
	}
	s.mu.Unlock()

	if err == nil {
		err = ErrLoopStopped
	}
	run.err = err
	close(run.done)
	s.metrics.loopStopped()
}
