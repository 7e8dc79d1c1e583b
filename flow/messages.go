package flow

import (
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExpectedRepliesHeader is the outgoing header that overrides the configured
// replies-per-request count for a single request.
const ExpectedRepliesHeader = "expectedReplies"

// OutgoingRequest is a single request to be published to the broker.
// Properties are overlaid with the flow's reply queue before publishing;
// Properties.Body is ignored in favor of Payload.
type OutgoingRequest struct {
	Payload    []byte
	Properties amqp.Publishing
	Mandatory  bool
	Immediate  bool
}

// ExpectedReplies returns the per-request reply count override carried in
// the expectedReplies header, if present and a usable integer.
func (r OutgoingRequest) ExpectedReplies() (int, bool) {
	if r.Properties.Headers == nil {
		return 0, false
	}
	return headerInt(r.Properties.Headers[ExpectedRepliesHeader])
}

// headerInt coerces the integer types amqp091 round-trips in a Table.
func headerInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	}
	return 0, false
}

// IncomingReply is a reply delivered to the flow's exclusive reply queue.
type IncomingReply struct {
	Payload       []byte
	DeliveryTag   uint64
	Exchange      string
	RoutingKey    string
	Redelivered   bool
	ContentType   string
	CorrelationID string
	Headers       amqp.Table
}

func newIncomingReply(d amqp.Delivery) IncomingReply {
	return IncomingReply{
		Payload:       d.Body,
		DeliveryTag:   d.DeliveryTag,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		Redelivered:   d.Redelivered,
		ContentType:   d.ContentType,
		CorrelationID: d.CorrelationId,
		Headers:       d.Headers,
	}
}

// CommittableReply pairs an IncomingReply with its one-shot commit callback.
// The consumer must call Commit exactly once per reply; the flow does not
// complete until every expected reply has been committed.
type CommittableReply struct {
	IncomingReply
	token *commitToken
}

// Commit acknowledges the reply to the broker and settles it with the flow.
// A second call returns ErrAlreadyCommitted and has no further effect.
// Commit is safe to call from any goroutine.
func (r CommittableReply) Commit() error {
	return r.token.commit()
}

// Committed reports whether Commit has already been called.
func (r CommittableReply) Committed() bool {
	return r.token.done.Load()
}

// commitToken carries the shared state a commit mutates. The unacked counter
// is decremented atomically because commits run on consumer goroutines, not
// on the flow's event loop.
type commitToken struct {
	done     atomic.Bool
	delivery amqp.Delivery
	unacked  *atomic.Int64
	notify   chan struct{}
}

func (t *commitToken) commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return ErrAlreadyCommitted
	}

	ackErr := t.delivery.Ack(false)

	// The flow's accounting settles even when the broker ack fails: a dead
	// channel surfaces through the close notification, not through commits.
	t.unacked.Add(-1)
	select {
	case t.notify <- struct{}{}:
	default:
	}

	return ackErr
}
