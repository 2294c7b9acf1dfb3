package service

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so lifecycle decisions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces task and plan ids.
type IDGenerator interface {
	New() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
