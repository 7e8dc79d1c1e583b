package flow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration is returned for out-of-range flow options.
	ErrInvalidConfiguration = errors.New("amqprpc: invalid configuration")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("amqprpc: flow already started")

	// ErrAlreadyCommitted is returned when a reply is committed more than once.
	ErrAlreadyCommitted = errors.New("amqprpc: reply already committed")

	// ErrStageStopped is the generic failure used when the flow halts without
	// a more specific cause having been recorded.
	ErrStageStopped = errors.New("amqprpc: flow stopped unexpectedly")

	// ErrDeliveriesClosed is returned when the broker's delivery stream ends
	// without a close or cancel notification.
	ErrDeliveriesClosed = errors.New("amqprpc: delivery stream closed")
)

// ProvisioningError reports a failure while setting up the reply queue or
// its consumer during activation.
type ProvisioningError struct {
	Op        string // qos, declare queue, consume
	Err       error
	Timestamp time.Time
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("amqprpc provisioning error: %s failed: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// ShutdownError reports an unsolicited consumer cancellation or a channel or
// connection shutdown while the flow was active.
type ShutdownError struct {
	ConsumerTag string
	Queue       string
	Err         error // nil for cancellations without an underlying cause
	Timestamp   time.Time
}

func (e *ShutdownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("amqprpc shutdown error: consumer %s on queue %s: %v",
			e.ConsumerTag, e.Queue, e.Err)
	}
	return fmt.Sprintf("amqprpc shutdown error: consumer %s on queue %s cancelled by broker",
		e.ConsumerTag, e.Queue)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// BufferOverflowError reports a delivered reply that could not be buffered.
// It is fatal: the flow never drops or requeues the overflowing reply, it
// fails so the operator sees the demand mismatch.
type BufferOverflowError struct {
	Capacity  int
	Timestamp time.Time
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("amqprpc buffer overflow: reply buffer capacity %d exceeded", e.Capacity)
}

// PublishError reports a failed request publish.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("amqprpc publish error: failed to publish to %s/%s (mandatory=%v): %v",
		e.Exchange, e.RoutingKey, e.Mandatory, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
