package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the slice of the broker channel the flow consumes. It is
// satisfied by *amqp091.Channel. The channel must be owned exclusively by
// one Stage; nothing else may publish or consume on it concurrently.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyCancel(c chan string) chan string
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
}

// Stage is a bidirectional request/reply flow over a broker channel.
//
// Requests sent to Requests() are published to the configured exchange with
// the flow's exclusive reply queue injected as the reply address. Replies
// arriving at that queue come out of Replies() in delivery order, each
// carrying a one-shot Commit. The flow completes once the request channel is
// closed and every expected reply has been delivered and committed.
//
// All flow state lives on a single event-loop goroutine; broker deliveries
// and shutdown notifications are handed off to it through channels. Only the
// unacked counter is shared, because commits run on consumer goroutines.
type Stage struct {
	channel Channel
	logger  *slog.Logger

	exchange            string
	routingKey          string
	bufferSize          int
	responsesPerMessage int
	consumerTag         string

	in  chan OutgoingRequest
	out chan CommittableReply

	queueName *QueueName
	queue     string

	deliveries <-chan amqp.Delivery
	cancels    chan string
	closes     chan *amqp.Error
	ackNotify  chan struct{}

	buffer       replyBuffer
	outstanding  int64
	unacked      atomic.Int64
	upstreamDone bool

	started atomic.Bool
	done    chan struct{}
	err     error
}

// Option configures a Stage.
type Option func(*Stage)

// WithExchange sets the exchange requests are published to. The default is
// the broker's default exchange.
func WithExchange(exchange string) Option {
	return func(s *Stage) {
		s.exchange = exchange
	}
}

// WithRoutingKey sets the routing key for published requests.
func WithRoutingKey(key string) Option {
	return func(s *Stage) {
		s.routingKey = key
	}
}

// WithBufferSize sets the hard cap on buffered, not-yet-consumed replies.
// It is also used as the channel prefetch. Must be positive.
func WithBufferSize(size int) Option {
	return func(s *Stage) {
		s.bufferSize = size
	}
}

// WithResponsesPerMessage sets how many replies each request is expected to
// produce unless overridden by the expectedReplies header. Must be positive.
func WithResponsesPerMessage(n int) Option {
	return func(s *Stage) {
		s.responsesPerMessage = n
	}
}

// WithConsumerTag sets the consumer tag used on the reply queue.
func WithConsumerTag(tag string) Option {
	return func(s *Stage) {
		s.consumerTag = tag
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// NewStage creates a flow over the given channel. The flow does nothing
// until Start is called.
func NewStage(channel Channel, options ...Option) (*Stage, error) {
	if channel == nil {
		return nil, fmt.Errorf("%w: channel cannot be nil", ErrInvalidConfiguration)
	}

	s := &Stage{
		channel:             channel,
		logger:              slog.Default(),
		bufferSize:          16,
		responsesPerMessage: 1,
		consumerTag:         "rpc." + uuid.New().String(),
		queueName:           newQueueName(),
		ackNotify:           make(chan struct{}, 1),
		done:                make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.bufferSize < 1 {
		return nil, fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfiguration)
	}
	if s.responsesPerMessage < 1 {
		return nil, fmt.Errorf("%w: responses per message must be positive", ErrInvalidConfiguration)
	}

	s.in = make(chan OutgoingRequest)
	s.out = make(chan CommittableReply)

	return s, nil
}

// Requests is the upstream input. Each value sent is published as one
// request. Close it to signal that no more requests follow; the flow then
// drains outstanding replies and completes. Senders should select on Done
// as well, since a failed flow stops receiving.
func (s *Stage) Requests() chan<- OutgoingRequest {
	return s.in
}

// Replies is the downstream output. It is closed when the flow terminates,
// successfully or not; check Err after it closes.
func (s *Stage) Replies() <-chan CommittableReply {
	return s.out
}

// QueueName returns the materialized handle to the reply queue name. It
// resolves exactly once: with the name once provisioning succeeds, or with
// the failure otherwise.
func (s *Stage) QueueName() *QueueName {
	return s.queueName
}

// Done is closed when the flow has terminated.
func (s *Stage) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, or nil if the flow completed cleanly or
// is still running.
func (s *Stage) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Start provisions the reply queue and starts the event loop. Provisioning
// runs synchronously on the caller: set QoS, declare the exclusive
// server-named queue, start consuming, resolve the queue-name handle. Any
// failure resolves the handle with that failure and terminates the flow.
func (s *Stage) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	// Register shutdown notifications before the first channel operation so
	// no close or cancel is missed.
	s.cancels = s.channel.NotifyCancel(make(chan string, 1))
	s.closes = s.channel.NotifyClose(make(chan *amqp.Error, 1))

	if err := s.channel.Qos(s.bufferSize, 0, true); err != nil {
		return s.failActivation("qos", err)
	}

	q, err := s.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return s.failActivation("declare queue", err)
	}
	s.queue = q.Name

	deliveries, err := s.channel.Consume(q.Name, s.consumerTag, false, true, false, false, nil)
	if err != nil {
		return s.failActivation("consume", err)
	}
	s.deliveries = deliveries

	s.queueName.resolve(q.Name)

	s.logger.Info("rpc flow started",
		"queue", q.Name,
		"consumerTag", s.consumerTag,
		"exchange", s.exchange,
		"routingKey", s.routingKey,
		"bufferSize", s.bufferSize)

	go s.run(ctx)

	return nil
}

func (s *Stage) failActivation(op string, err error) error {
	provErr := &ProvisioningError{
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
	s.finish(provErr)
	return provErr
}

// run is the flow's event loop. It owns the buffer, the outstanding counter
// and the upstream-done flag; every external event reaches it through a
// channel receive.
func (s *Stage) run(ctx context.Context) {
	// The handle must never be left unresolved, whatever path stops the loop.
	defer s.queueName.fail(ErrStageStopped)

	for {
		if s.upstreamDone && s.buffer.Len() == 0 && s.outstanding == 0 && s.unacked.Load() == 0 {
			s.finish(nil)
			return
		}

		// Arm the downstream send only when there is a buffered reply; a
		// successful send is the downstream pull being served.
		var outCh chan CommittableReply
		var head CommittableReply
		if s.buffer.Len() > 0 {
			outCh = s.out
			head = s.buffer.Peek()
		}

		in := s.in
		if s.upstreamDone {
			in = nil
		}

		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return

		case req, ok := <-in:
			if !ok {
				s.upstreamDone = true
				continue
			}
			if err := s.publish(ctx, req); err != nil {
				s.finish(err)
				return
			}

		case d, ok := <-s.deliveries:
			if !ok {
				s.finish(ErrDeliveriesClosed)
				return
			}
			if err := s.onDelivery(d); err != nil {
				s.finish(err)
				return
			}

		case outCh <- head:
			s.buffer.Drop()
			s.outstanding--

		case <-s.ackNotify:
			// Completion condition re-checked at the top of the loop.

		case tag := <-s.cancels:
			s.finish(&ShutdownError{
				ConsumerTag: tag,
				Queue:       s.queue,
				Timestamp:   time.Now(),
			})
			return

		case amqpErr, ok := <-s.closes:
			var cause error
			if ok && amqpErr != nil {
				cause = amqpErr
			} else if !ok {
				cause = ErrDeliveriesClosed
			}
			s.finish(&ShutdownError{
				ConsumerTag: s.consumerTag,
				Queue:       s.queue,
				Err:         cause,
				Timestamp:   time.Now(),
			})
			return
		}
	}
}

// publish sends one request with the reply queue injected and bumps both
// counters by the request's expected reply count.
func (s *Stage) publish(ctx context.Context, req OutgoingRequest) error {
	props := req.Properties
	props.ReplyTo = s.queue
	props.Body = req.Payload

	err := s.channel.PublishWithContext(ctx, s.exchange, s.routingKey,
		req.Mandatory, req.Immediate, props)
	if err != nil {
		return &PublishError{
			Exchange:   s.exchange,
			RoutingKey: s.routingKey,
			Mandatory:  req.Mandatory,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	expected := s.responsesPerMessage
	if override, ok := req.ExpectedReplies(); ok {
		expected = override
	}

	s.outstanding += int64(expected)
	s.unacked.Add(int64(expected))

	s.logger.Debug("request published",
		"exchange", s.exchange,
		"routingKey", s.routingKey,
		"expectedReplies", expected,
		"outstanding", s.outstanding)

	return nil
}

// onDelivery pushes the reply straight downstream when the consumer is
// already waiting and nothing is buffered ahead of it; otherwise it buffers.
// A reply that would exceed the buffer capacity fails the flow.
func (s *Stage) onDelivery(d amqp.Delivery) error {
	reply := CommittableReply{
		IncomingReply: newIncomingReply(d),
		token: &commitToken{
			delivery: d,
			unacked:  &s.unacked,
			notify:   s.ackNotify,
		},
	}

	if s.buffer.Len() == 0 {
		select {
		case s.out <- reply:
			s.outstanding--
			return nil
		default:
		}
	}

	if s.buffer.Len() >= s.bufferSize {
		return &BufferOverflowError{
			Capacity:  s.bufferSize,
			Timestamp: time.Now(),
		}
	}

	s.buffer.Push(reply)
	return nil
}

// finish terminates the flow exactly once: releases the consumer
// subscription, settles the queue-name handle on failure paths, records the
// terminal error and closes the output.
func (s *Stage) finish(err error) {
	if cancelErr := s.channel.Cancel(s.consumerTag, false); cancelErr != nil {
		s.logger.Debug("consumer cancel failed during teardown",
			"consumerTag", s.consumerTag, "error", cancelErr)
	}

	if err != nil {
		s.queueName.fail(err)
		s.logger.Error("rpc flow failed", "queue", s.queue, "error", err)
	} else {
		s.logger.Info("rpc flow completed", "queue", s.queue)
	}

	s.err = err
	close(s.out)
	close(s.done)
}
