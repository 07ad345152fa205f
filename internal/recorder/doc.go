// Package recorder persists market ticks to Postgres.
//
// A Recorder sits behind the feed dispatcher: Record converts trade and
// quote_update messages into storage ticks and queues them on a
// growable buffer, a consumer accumulates batches, and batches are
// written with INSERT ... ON CONFLICT DO NOTHING so trades redelivered
// across reconnects land exactly once. A failed batch returns to the
// queue instead of being dropped; Stop drains everything still buffered
// before the final flush.
package recorder
