// Package idgen generates the two identifier shapes the engine needs:
// UUIDv4 event ids and lexicographically sortable ULID command ids.
package idgen

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewEventID returns a UUIDv4-shaped string suitable for Event.ID.
func NewEventID() string {
	return uuid.New().String()
}

// NewCommandID returns a ULID string for CommandRecord.ID. ULIDs sort by
// creation time, which lets the command_log be scanned by recency without
// a separate issued_at index.
func NewCommandID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, entropy)
	if err != nil {
		// ulid.New only fails on monotonic overflow from a broken entropy
		// source; a fresh math/rand source never triggers it.
		panic(err)
	}
	return id.String()
}
