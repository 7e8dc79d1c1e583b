// Package rabbitmq is the connector layer beneath the amqprpc flow.
//
// It manages the broker connection and opens the dedicated channels flows
// run on:
//   - ConnectionManager: dials with a timeout, watches for broker-initiated
//     closes and reconnects with exponential backoff
//   - OpenChannel: one exclusive channel per flow, never shared or pooled
//
// Flow failures are terminal by design; reconnection here exists so a
// supervising layer can open a fresh flow on a restored connection.
package rabbitmq
