// Package storage persists the set of published event ids.
//
// Drivers:
//   - file:   newline-delimited ids, one durable append per Record
//   - sqlite: seen_events table (modernc.org/sqlite through sqlx)
//
// Both drivers keep an in-memory mirror so Has never touches disk.
package storage
