package flow

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestExpectedReplies(t *testing.T) {
	t.Run("absent header", func(t *testing.T) {
		req := OutgoingRequest{}
		_, ok := req.ExpectedReplies()
		assert.False(t, ok)

		req.Properties.Headers = amqp.Table{"other": 2}
		_, ok = req.ExpectedReplies()
		assert.False(t, ok)
	})

	t.Run("integer widths the broker round-trips", func(t *testing.T) {
		values := []interface{}{
			int(3), int8(3), int16(3), int32(3), int64(3),
			uint8(3), uint16(3), uint32(3),
		}
		for _, v := range values {
			req := OutgoingRequest{
				Properties: amqp.Publishing{Headers: amqp.Table{ExpectedRepliesHeader: v}},
			}
			n, ok := req.ExpectedReplies()
			assert.True(t, ok, "value %T", v)
			assert.Equal(t, 3, n, "value %T", v)
		}
	})

	t.Run("non-integer header is ignored", func(t *testing.T) {
		req := OutgoingRequest{
			Properties: amqp.Publishing{Headers: amqp.Table{ExpectedRepliesHeader: "3"}},
		}
		_, ok := req.ExpectedReplies()
		assert.False(t, ok)
	})
}

func TestNewIncomingReply(t *testing.T) {
	d := amqp.Delivery{
		Body:          []byte("payload"),
		DeliveryTag:   42,
		Exchange:      "rpc",
		RoutingKey:    "amq.gen-x",
		Redelivered:   true,
		ContentType:   "application/json",
		CorrelationId: "corr-9",
		Headers:       amqp.Table{"k": "v"},
	}

	reply := newIncomingReply(d)

	assert.Equal(t, []byte("payload"), reply.Payload)
	assert.Equal(t, uint64(42), reply.DeliveryTag)
	assert.Equal(t, "rpc", reply.Exchange)
	assert.Equal(t, "amq.gen-x", reply.RoutingKey)
	assert.True(t, reply.Redelivered)
	assert.Equal(t, "application/json", reply.ContentType)
	assert.Equal(t, "corr-9", reply.CorrelationID)
	assert.Equal(t, amqp.Table{"k": "v"}, reply.Headers)
}
