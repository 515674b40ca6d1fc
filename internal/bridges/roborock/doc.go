// Package roborock provides the transport clients for Roborock vacuums.
//
// Two transports implement the same Client contract:
//   - LocalClient: one TCP socket per device on port 58867, with a hello
//     on connect, a 5 second ping and an hourly reconnect watchdog
//   - CloudClient: one MQTT session per account, publishing to each
//     device's request topic and receiving all replies on one wildcard
//     subscription
//
// Both share a protocol.MessageContext and protocol.Serializer, so device
// secrets, nonces and the frame sequence counter are common to a session.
//
// # Requests
//
// Send writes a request and returns immediately; failures are logged.
// Get registers the request's message id in a correlation table, writes
// it, and waits for the reply with that id:
//
//	dp, err := client.Get(ctx, duid, protocol.NewRequest("get_status", nil))
//	status, err := roborock.GetAs[[]Status](ctx, client, duid, req)
//
// Unanswered calls fail with ErrRequestTimeout after the request timeout
// (10 seconds by default). A reply carrying an error object fails the call
// with *protocol.RPCError.
//
// # Listeners
//
// Connection and message listeners are called in registration order. A
// panicking listener is logged and the remaining listeners still run.
// Transport faults are reported to connection listeners and never returned
// from Send.
//
// # Bridge
//
// Bridge loads devices from the device registry, picks a transport per
// device, persists handshake nonces and forwards pushed values to the
// telemetry sink.
package roborock
