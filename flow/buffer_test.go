package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyBuffer(t *testing.T) {
	entry := func(tag uint64) CommittableReply {
		return CommittableReply{IncomingReply: IncomingReply{DeliveryTag: tag}}
	}

	t.Run("starts empty", func(t *testing.T) {
		var b replyBuffer
		assert.Equal(t, 0, b.Len())
	})

	t.Run("peek returns oldest entry", func(t *testing.T) {
		var b replyBuffer
		b.Push(entry(1))
		b.Push(entry(2))

		assert.Equal(t, uint64(1), b.Peek().DeliveryTag)
		assert.Equal(t, 2, b.Len())
	})

	t.Run("drop removes in FIFO order", func(t *testing.T) {
		var b replyBuffer
		b.Push(entry(1))
		b.Push(entry(2))
		b.Push(entry(3))

		b.Drop()
		assert.Equal(t, uint64(2), b.Peek().DeliveryTag)
		b.Drop()
		assert.Equal(t, uint64(3), b.Peek().DeliveryTag)
		b.Drop()
		assert.Equal(t, 0, b.Len())
	})

	t.Run("reusable after drain", func(t *testing.T) {
		var b replyBuffer
		b.Push(entry(1))
		b.Drop()
		b.Push(entry(2))

		assert.Equal(t, 1, b.Len())
		assert.Equal(t, uint64(2), b.Peek().DeliveryTag)
	})
}
