package bus

import (
	"context"
	"sync"
	"time"

	"github.com/thin-edge/tedge-core/pkg/concurrency"
	"github.com/thin-edge/tedge-core/pkg/logger"
)

// Server is the "concurrent server" of spec §4.1: it accepts up to N
// in-flight requests, suspending acceptance of new work at capacity until a
// pending response completes, and cancels pending tasks after a grace
// period on shutdown.
type Server[Req, Resp any] struct {
	inbox   *Mailbox[RequestEnvelope[Req, Resp]]
	signals SignalChan
	handle  func(ctx context.Context, req Req) Resp
	inFlight chan struct{} // capacity semaphore
	grace   time.Duration
}

// NewServer creates a concurrent server with the given mailbox capacity,
// maximum in-flight request count, and shutdown grace period.
func NewServer[Req, Resp any](mailboxCap, maxInFlight int, grace time.Duration, handle func(ctx context.Context, req Req) Resp) *Server[Req, Resp] {
	return &Server[Req, Resp]{
		inbox:    NewMailbox[RequestEnvelope[Req, Resp]](mailboxCap),
		signals:  NewSignalChan(),
		handle:   handle,
		inFlight: make(chan struct{}, maxInFlight),
		grace:    grace,
	}
}

// Mailbox exposes the server's request mailbox so callers can Send requests.
func (s *Server[Req, Resp]) Mailbox() *Mailbox[RequestEnvelope[Req, Resp]] {
	return s.inbox
}

// Signals exposes the server's runtime-request signal channel.
func (s *Server[Req, Resp]) Signals() SignalChan {
	return s.signals
}

// Run drives the server loop until Shutdown is signalled or the mailbox
// closes. It blocks acquiring an in-flight slot before dispatching each
// request, which is the capacity-suspension behavior required by spec §4.1.
func (s *Server[Req, Resp]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case sig := <-s.signals:
			if sig == Shutdown {
				s.drain(cancel, &wg)
				return
			}
		case env, ok := <-s.inbox.Recv():
			if !ok {
				wg.Wait()
				return
			}
			s.dispatch(serverCtx, &wg, env)
		}
	}
}

func (s *Server[Req, Resp]) dispatch(ctx context.Context, wg *sync.WaitGroup, env RequestEnvelope[Req, Resp]) {
	select {
	case s.inFlight <- struct{}{}:
	case <-ctx.Done():
		return
	}

	wg.Add(1)
	concurrency.SafeGo(ctx, func() {
		defer wg.Done()
		defer func() { <-s.inFlight }()
		resp := s.handle(ctx, env.Request)
		env.Reply(resp)
	})
}

// drain waits up to the grace period for in-flight work, then cancels.
func (s *Server[Req, Resp]) drain(cancel context.CancelFunc, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.grace):
		logger.L().Warn("server shutdown grace period elapsed, cancelling in-flight work")
		cancel()
		<-done
	}
}
