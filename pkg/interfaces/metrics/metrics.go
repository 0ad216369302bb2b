package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Collector enables downstream observers to record access layer activity
// (attempts, token exchanges, classified outcomes).
type Collector interface {
	Record(operation string, labels map[string]string)
}

// Nop discards every record.
type Nop struct{}

var _ Collector = (*Nop)(nil)

func (n *Nop) Record(operation string, labels map[string]string) {}

// OrNop returns c, or a Nop collector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &Nop{}
	}
	return c
}

// Counter tallies records by operation and label set. Useful for tests and
// simple diagnostics endpoints.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

var _ Collector = (*Counter)(nil)

func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

func (c *Counter) Record(operation string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[operation]++
	if len(labels) > 0 {
		c.counts[seriesKey(operation, labels)]++
	}
}

// Count returns the number of records for operation, optionally restricted to
// an exact label set.
func (c *Counter) Count(operation string, labels map[string]string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(labels) == 0 {
		return c.counts[operation]
	}
	return c.counts[seriesKey(operation, labels)]
}

func seriesKey(operation string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return operation + "{" + strings.Join(parts, ",") + "}"
}
