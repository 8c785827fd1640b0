// Package storage persists the booking state in a single sqlite database.
//
// The schema lives in migrations.sql and is applied on every open; all
// statements are idempotent. Timestamps are unix milliseconds. Status columns
// are updated through guarded statements so a terminal row can never change
// again.
package storage
