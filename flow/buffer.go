package flow

// replyBuffer is the FIFO of delivered-but-undelivered replies. It is only
// touched from the flow's event loop. Capacity checks live in the stage so
// overflow can fail the flow instead of the buffer.
type replyBuffer struct {
	entries []CommittableReply
}

func (b *replyBuffer) Len() int {
	return len(b.entries)
}

func (b *replyBuffer) Push(r CommittableReply) {
	b.entries = append(b.entries, r)
}

// Peek returns the oldest entry without removing it.
func (b *replyBuffer) Peek() CommittableReply {
	return b.entries[0]
}

// Drop removes the oldest entry after it has been pushed downstream.
func (b *replyBuffer) Drop() {
	b.entries[0] = CommittableReply{}
	b.entries = b.entries[1:]

	// Reclaim the backing array once fully drained.
	if len(b.entries) == 0 {
		b.entries = nil
	}
}
