package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueName(t *testing.T) {
	t.Run("await returns resolved name", func(t *testing.T) {
		q := newQueueName()
		q.resolve("amq.gen-abc")

		name, err := q.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "amq.gen-abc", name)
	})

	t.Run("await returns failure", func(t *testing.T) {
		q := newQueueName()
		cause := errors.New("declare failed")
		q.fail(cause)

		_, err := q.Await(context.Background())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("resolves exactly once", func(t *testing.T) {
		q := newQueueName()
		q.resolve("first")
		q.resolve("second")
		q.fail(errors.New("too late"))

		name, err := q.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "first", name)
	})

	t.Run("failure does not overwrite resolution", func(t *testing.T) {
		q := newQueueName()
		q.fail(errors.New("boom"))
		q.resolve("late")

		_, err := q.Await(context.Background())
		assert.Error(t, err)
	})

	t.Run("await honors context", func(t *testing.T) {
		q := newQueueName()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := q.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("value reports unresolved", func(t *testing.T) {
		q := newQueueName()

		_, _, resolved := q.Value()
		assert.False(t, resolved)

		q.resolve("amq.gen-x")
		name, err, resolved := q.Value()
		assert.True(t, resolved)
		assert.NoError(t, err)
		assert.Equal(t, "amq.gen-x", name)
	})

	t.Run("done closes on resolution", func(t *testing.T) {
		q := newQueueName()

		select {
		case <-q.Done():
			t.Fatal("done closed before resolution")
		default:
		}

		q.resolve("amq.gen-y")

		select {
		case <-q.Done():
		default:
			t.Fatal("done not closed after resolution")
		}
	})
}
