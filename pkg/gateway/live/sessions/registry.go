// Package sessions is the process-wide table of live sessions.
package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultCompletedHistory is how many reaped sessions List reports.
const DefaultCompletedHistory = 100

// ErrDuplicateID is returned when registering an id that is live or was
// recently reaped.
var ErrDuplicateID = errors.New("session id already registered")

// ErrDraining is returned by Register once a drain has started.
var ErrDraining = errors.New("session registry is draining")

// Entry is a registered session.
type Entry interface {
	ID() string
	Subject() string
	CreatedAt() time.Time
	State() string
	// Cancel requests cancellation. It must be safe to call repeatedly.
	Cancel()
}

// Status is the reported view of one session.
type Status struct {
	ID        string     `json:"session_id"`
	Subject   string     `json:"subject,omitempty"`
	State     string     `json:"state"`
	Outcome   string     `json:"outcome,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Listing partitions sessions for status reporting.
type Listing struct {
	Active    []Status `json:"active_sessions"`
	Completed []Status `json:"completed_sessions"`
}

// Registry maps session id to Entry. Entries are removed exactly once, by
// the unregister func Register returns.
type Registry struct {
	mu        sync.Mutex
	active    map[string]*tracked
	completed []Status
	reaped    map[string]int
	keep      int
	draining  bool
	wg        sync.WaitGroup
	now       func() time.Time
}

type tracked struct {
	entry Entry
	once  sync.Once
}

// New returns a registry remembering the last keep reaped sessions.
func New(keep int) *Registry {
	if keep <= 0 {
		keep = DefaultCompletedHistory
	}
	return &Registry{
		active: make(map[string]*tracked),
		reaped: make(map[string]int),
		keep:   keep,
		now:    time.Now,
	}
}

// Register adds e. The returned func records the terminal outcome and
// removes the entry; calls after the first are no-ops. Register fails with
// ErrDraining once Wait or DrainAll has been called.
func (r *Registry) Register(e Entry) (unregister func(outcome string, err error), err error) {
	id := e.ID()
	t := &tracked{entry: e}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	if _, ok := r.active[id]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateID
	}
	if _, ok := r.reaped[id]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateID
	}
	r.active[id] = t
	r.wg.Add(1)
	r.mu.Unlock()

	return func(outcome string, err error) { r.unregister(id, t, outcome, err) }, nil
}

func (r *Registry) unregister(id string, t *tracked, outcome string, err error) {
	t.once.Do(func() {
		ended := r.now()
		st := Status{
			ID:        id,
			Subject:   t.entry.Subject(),
			State:     t.entry.State(),
			Outcome:   outcome,
			CreatedAt: t.entry.CreatedAt(),
			EndedAt:   &ended,
		}
		if err != nil {
			st.Error = err.Error()
		}

		r.mu.Lock()
		if r.active[id] == t {
			delete(r.active, id)
		}
		r.completed = append(r.completed, st)
		r.reaped[id]++
		if over := len(r.completed) - r.keep; over > 0 {
			for _, old := range r.completed[:over] {
				if r.reaped[old.ID]--; r.reaped[old.ID] <= 0 {
					delete(r.reaped, old.ID)
				}
			}
			r.completed = append([]Status(nil), r.completed[over:]...)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the live entry for id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[id]
	if !ok {
		return nil, false
	}
	return t.entry, true
}

// Reaped reports the recorded terminal status of a recently reaped id.
func (r *Registry) Reaped(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.completed) - 1; i >= 0; i-- {
		if r.completed[i].ID == id {
			return r.completed[i], true
		}
	}
	return Status{}, false
}

// List returns active sessions oldest first and completed sessions in reap
// order.
func (r *Registry) List() Listing {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.active))
	for _, t := range r.active {
		entries = append(entries, t.entry)
	}
	completed := append([]Status(nil), r.completed...)
	r.mu.Unlock()

	active := make([]Status, 0, len(entries))
	for _, e := range entries {
		active = append(active, Status{
			ID:        e.ID(),
			Subject:   e.Subject(),
			State:     e.State(),
			CreatedAt: e.CreatedAt(),
		})
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	if completed == nil {
		completed = []Status{}
	}
	return Listing{Active: active, Completed: completed}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CountSubject returns how many live sessions belong to subject.
func (r *Registry) CountSubject(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.active {
		if t.entry.Subject() == subject {
			n++
		}
	}
	return n
}

// CancelAll requests cancellation of every live session.
func (r *Registry) CancelAll() (canceled int) {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.active))
	for _, t := range r.active {
		entries = append(entries, t.entry)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has been unregistered or ctx
// ends. It reports whether the registry drained. No session can be
// registered afterwards.
func (r *Registry) Wait(ctx context.Context) bool {
	r.stopRegistering()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// DrainAll cancels every live session and waits for each to be reaped.
func (r *Registry) DrainAll(ctx context.Context) error {
	r.stopRegistering()
	r.CancelAll()
	if !r.Wait(ctx) {
		return ctx.Err()
	}
	return nil
}

func (r *Registry) stopRegistering() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}
