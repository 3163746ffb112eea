package ledger

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sequencer tags dispatched fetches with increasing generation numbers so a
// late response cannot overwrite the result of a newer request.
type Sequencer struct {
	latest atomic.Uint64
}

// Next returns the generation for a fetch about to be dispatched.
func (s *Sequencer) Next() uint64 {
	return s.latest.Add(1)
}

// Current reports whether gen is still the newest dispatched generation.
func (s *Sequencer) Current(gen uint64) bool {
	return s.latest.Load() == gen
}

// NewTempID returns a client-side id for an entry the backend has not
// confirmed yet. It combines a millisecond timestamp with a random part.
func NewTempID() string {
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}

// RollbackPolicy selects which optimistic mutations are undone when the
// backend rejects them.
type RollbackPolicy string

const (
	// RollbackCreatesOnly reverts failed creates and leaves failed deletes
	// and status updates applied until the next refresh.
	RollbackCreatesOnly RollbackPolicy = "creates"
	// RollbackAll reverts every failed optimistic mutation.
	RollbackAll RollbackPolicy = "all"
)

func ParseRollbackPolicy(s string) (RollbackPolicy, error) {
	switch RollbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RollbackCreatesOnly:
		return RollbackCreatesOnly, nil
	case RollbackAll:
		return RollbackAll, nil
	}
	return "", fmt.Errorf("invalid rollback policy %q: must be 'creates' or 'all'", s)
}

// RevertsDeletes reports whether failed deletes and status updates are undone.
func (p RollbackPolicy) RevertsDeletes() bool {
	return p == RollbackAll
}
