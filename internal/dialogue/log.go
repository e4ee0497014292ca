// Package dialogue maintains the append-only operator/agent message log for
// a negotiation session.
package dialogue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Origin identifies which side of the negotiation produced a message.
type Origin string

const (
	OriginOperator Origin = "OPERATOR"
	OriginAgent    Origin = "AGENT"
)

// GenerationMeta carries optional model bookkeeping for agent messages.
type GenerationMeta struct {
	ThinkingDuration time.Duration
	ModelUsed        string
	TokenConsumption int
}

// Vector is one message in the dialogue log. Immutable once appended.
type Vector struct {
	ID        string
	Origin    Origin
	Payload   string
	Timestamp time.Time
	Meta      *GenerationMeta
}

// Log is an append-only, never-reordered message log. It grows unbounded
// within a session and is cleared on scenario change or reset. Safe for
// concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Vector
}

// NewLog creates an empty [Log].
func NewLog() *Log {
	return &Log{}
}

// Append adds a message to the log and returns the stored entry. Timestamps
// are assigned under the log's lock, so ordering is monotonic by creation
// time even under concurrent appends.
func (l *Log) Append(origin Origin, payload string, meta *GenerationMeta) Vector {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := Vector{
		ID:        uuid.NewString(),
		Origin:    origin,
		Payload:   payload,
		Timestamp: time.Now(),
		Meta:      meta,
	}
	l.entries = append(l.entries, v)
	return v
}

// Snapshot returns a copy of the full log in append order.
func (l *Log) Snapshot() []Vector {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Vector, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of logged messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear discards all entries. Called on scenario change or session reset.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
