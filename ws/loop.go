package ws

import (
	"context"
)

// Decision tells the dispatch loop whether to keep going after a push
// event. Build it with Continue or Stop.
type Decision[R any] struct {
	stop   bool
	result R
}

// Continue keeps the loop running.
func Continue[R any]() Decision[R] {
	return Decision[R]{}
}

// Stop ends the loop; Run returns result.
func Stop[R any](result R) Decision[R] {
	return Decision[R]{stop: true, result: result}
}

// Stopped reports whether the decision ends the loop.
func (d Decision[R]) Stopped() bool { return d.stop }

// Handler receives push events on the dispatch loop goroutine, one at a
// time. Commands issued through c are written immediately and never wait
// for their answer. A handler must not call the awaiting methods of the
// *Session itself: the loop cannot read the answer while the handler
// blocks on it.
type Handler[R any] interface {
	HandleEvent(ctx context.Context, c Commander, ev Event) Decision[R]
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[R any] func(ctx context.Context, c Commander, ev Event) Decision[R]

func (f HandlerFunc[R]) HandleEvent(ctx context.Context, c Commander, ev Event) Decision[R] {
	return f(ctx, c, ev)
}

// Run starts the dispatch loop on s and blocks until it ends.
//
// The loop reads frames one at a time. Acknowledgements are matched, in
// order, with the commands written on the session; push events go to h.
// When h returns Stop(r), Run returns r and nil without reading another
// frame; the session stays open and Run may be called again. Transport,
// protocol and desynchronization errors, as well as ctx cancellation,
// close the session and are returned. Commands waiting for an answer when
// the loop ends fail with a *LoopClosedError.
func Run[R any](ctx context.Context, s *Session, h Handler[R]) (R, error) {
	var zero R
	run, err := s.startLoop()
	if err != nil {
		return zero, err
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		_ = s.shutdown(ctx.Err())
	})
	defer stopWatch()

	s.log.Debug().Msg("ws dispatch loop started")
	cmdr := issuer{s: s}
	for {
		data, err := s.transport.ReadFrame()
		if err != nil {
			err = s.readFailure(ctx, err)
			s.stopLoop(run, err)
			s.log.Debug().Err(err).Msg("ws dispatch loop ended")
			return zero, err
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return zero, s.fail(run, &ProtocolError{Frame: data, Err: err})
		}
		s.metrics.frameReceived(frame.Kind)

		if frame.IsAck() {
			if err := s.resolve(frame); err != nil {
				return zero, s.fail(run, err)
			}
			continue
		}

		s.log.Trace().Str("frame_kind", frame.Event.EventName()).Msg("ws push event")
		if d := h.HandleEvent(ctx, cmdr, frame.Event); d.stop {
			if !stopWatch() {
				// ctx was cancelled first and is already closing the session.
				err := ctx.Err()
				s.stopLoop(run, err)
				return zero, err
			}
			s.stopLoop(run, nil)
			s.log.Debug().Msg("ws dispatch loop stopped by handler")
			return d.result, nil
		}
	}
}

// fail closes the session because of a fatal loop error and ends run.
func (s *Session) fail(run *loopRun, err error) error {
	_ = s.shutdown(err)
	s.stopLoop(run, err)
	return err
}

// readFailure maps a receive-half error to the loop's result.
func (s *Session) readFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.mu.Lock()
	closed, cause := s.closed, s.cause
	s.mu.Unlock()
	if closed {
		if cause != nil {
			return cause
		}
		return ErrSessionClosed
	}
	terr := &TransportError{Op: "read", Err: err}
	if isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("ws connection closed by peer")
	}
	_ = s.shutdown(terr)
	return terr
}
