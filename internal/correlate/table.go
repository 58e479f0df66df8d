// Package correlate tracks in-flight JSON-RPC requests and pairs each one with
// exactly one outcome: a response, a timeout, or a bulk failure.
package correlate

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateID is returned by Register when the id is already pending.
	ErrDuplicateID = errors.New("duplicate request id")

	// ErrTimeout is delivered to a waiter whose deadline passed first.
	ErrTimeout = errors.New("request timed out")
)

// Outcome is what a waiter eventually receives: a raw result or an error.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Waiter is the caller's handle on a pending request.
type Waiter struct {
	ID        string
	CreatedAt time.Time

	ch chan Outcome
}

// Done yields the single outcome for this request. The channel is buffered,
// so delivery never blocks the table even if the caller has gone away.
func (w *Waiter) Done() <-chan Outcome { return w.ch }

type entry struct {
	waiter *Waiter
	timer  *time.Timer
}

// Table maps request ids to waiters. All mutation happens under mu, which is
// what makes resolve, expire and fail-all mutually exclusive per entry.
type Table struct {
	mu      sync.Mutex
	pending map[string]*entry
	now     func() time.Time
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		pending: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register adds a pending entry for id that expires after timeout.
// A non-positive timeout disables expiry; the entry then leaves the table
// only through Resolve, Cancel or FailAll.
func (t *Table) Register(id string, timeout time.Duration) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return nil, ErrDuplicateID
	}

	w := &Waiter{ID: id, CreatedAt: t.now(), ch: make(chan Outcome, 1)}
	e := &entry{waiter: w}
	if timeout > 0 {
		// The closure holds e, not just id: a late timer must never expire a
		// newer entry that reused the same id.
		e.timer = time.AfterFunc(timeout, func() { t.expireEntry(id, e) })
	}
	t.pending[id] = e
	return w, nil
}

// Resolve delivers out to the waiter for id and removes the entry.
// It reports false when id is not pending (unknown, already resolved or
// expired); the outcome is then discarded.
func (t *Table) Resolve(id string, out Outcome) bool {
	e := t.take(id, nil)
	if e == nil {
		return false
	}
	e.waiter.ch <- out
	return true
}

// Expire removes id and delivers ErrTimeout if it is still pending.
func (t *Table) Expire(id string) bool {
	return t.expireEntry(id, nil)
}

// Cancel removes id without delivering anything. Used when the request never
// reached the child or its caller stopped waiting.
func (t *Table) Cancel(id string) bool {
	return t.take(id, nil) != nil
}

// FailAll removes every pending entry and delivers err to each waiter.
// It returns the number of waiters failed.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.waiter.ch <- Outcome{Err: err}
	}
	return len(entries)
}

// Len reports the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) expireEntry(id string, want *entry) bool {
	e := t.take(id, want)
	if e == nil {
		return false
	}
	e.waiter.ch <- Outcome{Err: ErrTimeout}
	return true
}

// take removes and returns the entry for id. When want is non-nil the entry is
// only taken if it is that exact entry.
func (t *Table) take(id string, want *entry) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.pending[id]
	if !ok || (want != nil && e != want) {
		return nil
	}
	delete(t.pending, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}
