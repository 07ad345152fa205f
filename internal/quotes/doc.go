// Package quotes maintains the last-known quote per symbol for dashboard
// reads.
//
// The cache is a feed consumer: wire Cache.Apply to the quote_update and
// trade handler tags. Reads come in three shapes:
//   - Get: point lookup for one symbol
//   - Snapshot: sorted copy of every symbol, for the /quotes endpoint
//   - Watch: buffered live-update channel per subscriber
//
// A background sweep flags quotes that have not been refreshed recently so
// the dashboard can render them as delayed.
package quotes
