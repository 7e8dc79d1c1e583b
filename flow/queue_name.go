package flow

import (
	"context"
	"sync"
)

// QueueName is the materialized result of a flow: the server-generated name
// of its exclusive reply queue. It resolves exactly once, either with the
// name once provisioning succeeds or with an error on any failure before or
// after that point. It is never left unresolved.
type QueueName struct {
	once sync.Once
	ch   chan struct{}
	name string
	err  error
}

func newQueueName() *QueueName {
	return &QueueName{ch: make(chan struct{})}
}

// resolve settles the handle with the declared queue name.
func (q *QueueName) resolve(name string) {
	q.once.Do(func() {
		q.name = name
		close(q.ch)
	})
}

// fail settles the handle with err if it is still pending.
func (q *QueueName) fail(err error) {
	q.once.Do(func() {
		q.err = err
		close(q.ch)
	})
}

// Done is closed once the handle has resolved.
func (q *QueueName) Done() <-chan struct{} {
	return q.ch
}

// Await blocks until the handle resolves or ctx is done.
func (q *QueueName) Await(ctx context.Context) (string, error) {
	select {
	case <-q.ch:
		return q.name, q.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Value returns the resolved name or error. It must only be called after
// Done is closed; before that it reports unresolved.
func (q *QueueName) Value() (name string, err error, resolved bool) {
	select {
	case <-q.ch:
		return q.name, q.err, true
	default:
		return "", nil, false
	}
}
