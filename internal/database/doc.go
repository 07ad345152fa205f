// Package database provides the PostgreSQL connection pool and schema
// migrations for the tick store. The feed service records quote and
// trade history here; the live connection path never touches it.
package database
