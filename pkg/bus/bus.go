// Package bus implements the actor message bus of spec §4.1: typed
// channels, a one-shot request/reply envelope, a bounded multi-producer
// mailbox for backpressure, and a runtime-request signal independent of an
// actor's normal inputs.
//
// Grounded on the teacher's pkg/events Bus/Handler shape, generalized from
// topic-keyed pub/sub to the point-to-point and request/reply channels the
// actor model needs.
package bus

import (
	"context"

	"github.com/thin-edge/tedge-core/pkg/errors"
)

// Signal is a runtime-request value delivered on an actor's signal channel,
// independent of its normal inputs.
type Signal int

const (
	// Shutdown asks the actor to drain in-flight work and return within a
	// bounded grace period.
	Shutdown Signal = iota
)

// RequestEnvelope pairs a request with a one-shot reply channel so a server
// can answer without knowing its caller (spec §4.1).
type RequestEnvelope[Req, Resp any] struct {
	Request Req
	replyTo chan Resp
}

// NewRequest wraps req in an envelope with a fresh one-shot reply channel.
func NewRequest[Req, Resp any](req Req) (RequestEnvelope[Req, Resp], <-chan Resp) {
	reply := make(chan Resp, 1)
	return RequestEnvelope[Req, Resp]{Request: req, replyTo: reply}, reply
}

// Reply delivers resp to the caller. It is safe to call at most once; a
// second call panics, matching the one-shot contract of a oneshot sender.
func (e RequestEnvelope[Req, Resp]) Reply(resp Resp) {
	e.replyTo <- resp
	close(e.replyTo)
}

// Mailbox is a bounded multi-producer, single-consumer channel. Senders
// cooperatively suspend (block) when the mailbox is full; this is the only
// backpressure mechanism in the system (spec §4.1).
type Mailbox[T any] struct {
	ch     chan T
	closed chan struct{}
}

// NewMailbox creates a mailbox with the given bounded capacity.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send enqueues msg, blocking while the mailbox is full. Fails only with a
// Channel error if the mailbox or the context is already closed/cancelled.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	select {
	case <-m.closed:
		return errors.Channel("mailbox closed", nil)
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	case <-m.closed:
		return errors.Channel("mailbox closed", nil)
	case <-ctx.Done():
		return errors.Channel("send cancelled", ctx.Err())
	}
}

// TrySend enqueues msg without blocking, reporting false if the mailbox is
// currently full or closed.
func (m *Mailbox[T]) TrySend(msg T) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Recv returns the receive side of the mailbox for use in a select
// statement; the channel is closed on permanent shutdown, matching the
// "receive returning none signals closure" contract.
func (m *Mailbox[T]) Recv() <-chan T {
	return m.ch
}

// Close permanently closes the mailbox. Pending sends blocked on Send
// return a Channel error; further sends fail immediately.
func (m *Mailbox[T]) Close() {
	select {
	case <-m.closed:
		// already closed
	default:
		close(m.closed)
		close(m.ch)
	}
}

// SignalChan is an actor's runtime-request signal channel, independent of
// its normal mailbox inputs.
type SignalChan chan Signal

// NewSignalChan creates a signal channel with a small buffer so a Shutdown
// sent concurrently with actor teardown is never lost.
func NewSignalChan() SignalChan {
	return make(SignalChan, 1)
}
