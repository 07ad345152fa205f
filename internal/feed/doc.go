// Package feed implements the real-time market-data connection manager.
//
// The connection manager:
//   - Maintains one persistent WebSocket connection to the streaming gateway
//   - Multiplexes per-symbol channel subscriptions over that connection
//   - Recovers from disconnects with capped exponential backoff
//   - Replays the full subscription set after every successful connect
//   - Queues outbound messages while no connection exists, FIFO
//   - Dispatches inbound messages to handlers by their type tag
//
// All facade methods return immediately; failures surface through State,
// IsConnected, and LastError rather than return values.
package feed
