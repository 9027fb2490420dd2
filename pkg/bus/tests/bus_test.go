package tests

import (
	"context"
	"testing"
	"time"

	"github.com/thin-edge/tedge-core/pkg/bus"
	"github.com/stretchr/testify/suite"
)

// BusSuite provides tests for the mailbox, request envelope, and concurrent
// server primitives.
type BusSuite struct {
	suite.Suite
}

func (s *BusSuite) TestMailboxSendRecv() {
	mb := bus.NewMailbox[int](1)
	ctx := context.Background()

	s.NoError(mb.Send(ctx, 42))
	s.Equal(42, <-mb.Recv())
}

func (s *BusSuite) TestMailboxTrySendFullReturnsFalse() {
	mb := bus.NewMailbox[int](1)
	s.True(mb.TrySend(1))
	s.False(mb.TrySend(2))
}

func (s *BusSuite) TestMailboxCloseUnblocksSend() {
	mb := bus.NewMailbox[int](0)
	mb.Close()

	err := mb.Send(context.Background(), 1)
	s.Error(err)
}

func (s *BusSuite) TestMailboxSendCancelledContext() {
	mb := bus.NewMailbox[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mb.Send(ctx, 1)
	s.Error(err)
}

func (s *BusSuite) TestRequestEnvelopeReply() {
	env, reply := bus.NewRequest[string, int]("ping")
	s.Equal("ping", env.Request)

	go env.Reply(7)

	select {
	case resp := <-reply:
		s.Equal(7, resp)
	case <-time.After(time.Second):
		s.Fail("reply not received")
	}
}

func (s *BusSuite) TestServerRespondsAndShutsDown() {
	srv := bus.NewServer[int, int](4, 2, 100*time.Millisecond, func(ctx context.Context, req int) int {
		return req * 2
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Run(ctx)

	env, reply := bus.NewRequest[int, int](21)
	s.NoError(srv.Mailbox().Send(ctx, env))

	select {
	case resp := <-reply:
		s.Equal(42, resp)
	case <-time.After(time.Second):
		s.Fail("no response from server")
	}

	srv.Signals() <- bus.Shutdown
}

// TestBusSuite runs the test suite.
func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}
