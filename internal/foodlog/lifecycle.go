package foodlog

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

// LeaseGrace is added to the provider timeout to form the reanalysis lease.
// A reanalyzing entry older than the lease was abandoned by a dead process.
const LeaseGrace = 30 * time.Second

// lifecycle guards the per-entry mutation token. Within one process the held
// set rejects a second writer immediately; across processes the persisted
// state and the store's version check do the same.
type lifecycle struct {
	mu    sync.Mutex
	held  map[string]struct{}
	lease time.Duration
}

func newLifecycle(lease time.Duration) *lifecycle {
	return &lifecycle{
		held:  make(map[string]struct{}),
		lease: lease,
	}
}

func tokenKey(owner int64, id string) string {
	return strconv.FormatInt(owner, 10) + "/" + id
}

// begin takes the token for one entry. The returned release must be called
// exactly once.
func (l *lifecycle) begin(owner int64, id string) (func(), error) {
	key := tokenKey(owner, id)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("entry %s has an operation in flight: %w", id, model.ErrConflict)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// inFlight reports how many entries currently hold a token.
func (l *lifecycle) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// abandoned reports whether e is stuck in reanalyzing past the lease.
func (l *lifecycle) abandoned(e *model.Entry, now time.Time) bool {
	return e.State == model.StateReanalyzing && now.Sub(e.StateChangedAt) > l.lease
}

// checkIdle returns a conflict unless e accepts a mutation at now.
func (l *lifecycle) checkIdle(e *model.Entry, now time.Time) error {
	switch e.State {
	case model.StateIdle, "":
		return nil
	case model.StateReanalyzing:
		if l.abandoned(e, now) {
			return nil
		}
		return fmt.Errorf("entry %s is being reanalyzed: %w", e.ID, model.ErrConflict)
	default:
		return fmt.Errorf("entry %s is in unknown state %q: %w", e.ID, e.State, model.ErrConflict)
	}
}
