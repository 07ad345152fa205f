// Package model defines shared market-data types used across marketfeed.
//
// Conventions:
//   - Prices: JSON numbers or strings on the wire, decimal.Decimal in memory
//   - Timestamps: RFC 3339 strings from the gateway; µs since epoch in storage
//   - IDs: string symbols, uuid.UUID for tick row identity
package model
