// Package platform holds small ambient ports (time, ids) so workflows stay
// deterministic in tests.
package platform

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces opaque unique job ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.New().String() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// SequenceIDs hands out pre-baked ids in order. Test helper.
type SequenceIDs struct {
	IDs  []string
	next int
}

func (s *SequenceIDs) NewID() string {
	if s.next >= len(s.IDs) {
		return "overflow-id"
	}
	id := s.IDs[s.next]
	s.next++
	return id
}
