package testutil

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"crepo/internal/cr"
)

// StubClock returns a settable time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ cr.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator returns reproducible UUIDs: the nth call yields the SHA-1 name
// UUID of n in the OID namespace.
type StubIDGenerator struct {
	mu sync.Mutex
	n  int
}

var _ cr.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return StubID(g.n)
}

// StubID is the value StubIDGenerator returns on its nth call.
func StubID(n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.Itoa(n))).String()
}
