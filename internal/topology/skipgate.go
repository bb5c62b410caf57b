package topology

import (
	"sync"

	"telenotify/pkg/metrics"
)

// Processor is a stage registered into a shared stream topology.
type Processor interface {
	ID() string
	SourceTopics() []string
}

// StreamContext describes the sub-topology that is currently executing.
type StreamContext interface {
	ActiveStreamName() string
}

// ActiveStream is a StreamContext naming the stream directly, usually the topic a record
// was read from.
type ActiveStream string

func (s ActiveStream) ActiveStreamName() string {
	return string(s)
}

// SkipGate decides whether a processor must be bypassed for the active stream. The first
// decision per processor id is cached and returned for every later call, so a gate belongs
// to one processor instance and is discarded with it.
type SkipGate struct {
	mu        sync.Mutex
	decisions map[string]bool
}

func NewSkipGate() *SkipGate {
	return &SkipGate{decisions: make(map[string]bool)}
}

// Test returns true when c's active stream is not one of p's source topics.
func (g *SkipGate) Test(p Processor, c StreamContext) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if skip, ok := g.decisions[p.ID()]; ok {
		metrics.IncSkipGateDecision(p.ID(), skip, true)
		return skip
	}

	skip := true
	active := c.ActiveStreamName()
	for _, topic := range p.SourceTopics() {
		if topic == active {
			skip = false
			break
		}
	}

	g.decisions[p.ID()] = skip
	metrics.IncSkipGateDecision(p.ID(), skip, false)
	return skip
}

// Reset forgets every cached decision.
func (g *SkipGate) Reset() {
	g.mu.Lock()
	g.decisions = make(map[string]bool)
	g.mu.Unlock()
}
