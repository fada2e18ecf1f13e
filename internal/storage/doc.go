// Package storage persists the delivery log and the stat counters.
//
// Two tables (or their file equivalents) are kept:
//   - scheduled_logs: append-only record of every firing
//   - stats:          key/value counters stored as decimal strings
package storage
