package testfixtures

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// fixtureNamespace seeds UUIDGenerator so identifiers are stable across runs.
var fixtureNamespace = uuid.MustParse("6f1c2b8e-5d0a-4c57-9a3e-1b2f7e4d9c10")

// IDGenerator hands out "<prefix>-<n>" identifiers in order.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued int
}

// NewIDGenerator returns a generator for prefix, defaulting to "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.prefix + "-" + strconv.Itoa(g.issued)
}

// Issued reports how many identifiers have been handed out.
func (g *IDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

// NextFunc returns Next as an injectable function. A nil generator falls back
// to random UUIDs, matching production wiring.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return uuid.NewString
	}
	return g.Next
}

// UUIDGenerator yields name based UUIDs so tests that expect UUID shaped
// identifiers still see the same values on every run.
type UUIDGenerator struct {
	mu   sync.Mutex
	seed string
	n    int
}

// NewUUIDGenerator returns a generator whose sequence is determined by seed.
func NewUUIDGenerator(seed string) *UUIDGenerator {
	return &UUIDGenerator{seed: seed}
}

// Next returns the next UUID in the sequence.
func (g *UUIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuid.NewSHA1(fixtureNamespace, []byte(g.seed+"/"+strconv.Itoa(g.n))).String()
}
