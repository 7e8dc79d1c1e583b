// Package flow implements the RPC flow stage: a bidirectional request/reply
// bridge over a single, exclusively owned broker channel.
//
// The stage coordinates three asynchronous event sources on one event-loop
// goroutine:
//   - upstream demand: requests received from Requests() are published with
//     the reply queue injected, one publish per request, in order
//   - broker deliveries: replies arriving at the exclusive reply queue are
//     pushed downstream when a consumer is waiting, otherwise buffered up to
//     the configured buffer size; exceeding it fails the flow
//   - downstream demand: a receive on Replies() drains the oldest buffered
//     reply
//
// Accounting is by count: each request raises the expected-reply counters by
// its expectedReplies header or the configured default. The flow completes
// only when upstream has closed, the buffer is drained, and every expected
// reply has been both delivered and committed.
//
// The reply queue name materializes through a write-once handle that always
// resolves exactly once, with the name on success or the terminal error on
// any failure.
package flow
