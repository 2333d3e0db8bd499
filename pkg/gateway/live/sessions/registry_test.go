package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEntry struct {
	id       string
	subject  string
	created  time.Time
	cancels  atomic.Int64
	onCancel func()
}

func (f *fakeEntry) ID() string           { return f.id }
func (f *fakeEntry) Subject() string      { return f.subject }
func (f *fakeEntry) CreatedAt() time.Time { return f.created }
func (f *fakeEntry) State() string        { return "running" }
func (f *fakeEntry) Cancel() {
	f.cancels.Add(1)
	if f.onCancel != nil {
		f.onCancel()
	}
}

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := New(0)
	e := &fakeEntry{id: "s1", subject: "u1", created: time.Unix(100, 0)}
	unregister, err := r.Register(e)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got, ok := r.Lookup("s1"); !ok || got != Entry(e) {
		t.Fatalf("lookup=%v,%v", got, ok)
	}
	if r.Count() != 1 || r.CountSubject("u1") != 1 || r.CountSubject("u2") != 0 {
		t.Fatalf("count=%d subject=%d", r.Count(), r.CountSubject("u1"))
	}

	unregister("completed", nil)
	unregister("failed", errors.New("late"))

	if _, ok := r.Lookup("s1"); ok {
		t.Fatalf("entry still live after unregister")
	}
	st, ok := r.Reaped("s1")
	if !ok || st.Outcome != "completed" || st.Error != "" || st.EndedAt == nil {
		t.Fatalf("reaped=%+v,%v", st, ok)
	}
	if l := r.List(); len(l.Active) != 0 || len(l.Completed) != 1 {
		t.Fatalf("listing=%+v", l)
	}
}

func TestRegistry_RejectsReusedID(t *testing.T) {
	r := New(0)
	unregister, err := r.Register(&fakeEntry{id: "s1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(&fakeEntry{id: "s1"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("live duplicate err=%v", err)
	}
	unregister("cancelled", nil)
	if _, err := r.Register(&fakeEntry{id: "s1"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("reaped duplicate err=%v", err)
	}
}

func TestRegistry_ListPartitionsAndCarriesFailure(t *testing.T) {
	r := New(0)
	base := time.Unix(1000, 0)
	_, _ = r.Register(&fakeEntry{id: "b", created: base.Add(time.Second)})
	_, _ = r.Register(&fakeEntry{id: "a", created: base})
	done, _ := r.Register(&fakeEntry{id: "c", created: base})
	done("failed", errors.New("stt: socket closed"))

	l := r.List()
	if len(l.Active) != 2 || l.Active[0].ID != "a" || l.Active[1].ID != "b" {
		t.Fatalf("active=%+v", l.Active)
	}
	if len(l.Completed) != 1 || l.Completed[0].Error != "stt: socket closed" {
		t.Fatalf("completed=%+v", l.Completed)
	}
}

func TestRegistry_CompletedHistoryIsBounded(t *testing.T) {
	r := New(2)
	for i := 0; i < 3; i++ {
		done, err := r.Register(&fakeEntry{id: fmt.Sprintf("s%d", i)})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		done("completed", nil)
	}
	l := r.List()
	if len(l.Completed) != 2 || l.Completed[0].ID != "s1" {
		t.Fatalf("completed=%+v", l.Completed)
	}
	if _, ok := r.Reaped("s0"); ok {
		t.Fatalf("evicted id still reported")
	}
}

func TestRegistry_DrainAllWaitsForReap(t *testing.T) {
	r := New(0)
	var mu sync.Mutex
	unregs := map[string]func(string, error){}
	for _, id := range []string{"s1", "s2"} {
		id := id
		e := &fakeEntry{id: id}
		e.onCancel = func() {
			go func() {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				u := unregs[id]
				mu.Unlock()
				u("cancelled", nil)
			}()
		}
		u, err := r.Register(e)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		mu.Lock()
		unregs[id] = u
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.DrainAll(ctx); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("count=%d, want 0", r.Count())
	}
}

func TestRegistry_DrainAllTimesOut(t *testing.T) {
	r := New(0)
	e := &fakeEntry{id: "stuck"}
	if _, err := r.Register(e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.DrainAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline", err)
	}
	if e.cancels.Load() != 1 {
		t.Fatalf("cancels=%d, want 1", e.cancels.Load())
	}
}

func TestRegistry_RegisterRejectedOnceDraining(t *testing.T) {
	r := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.DrainAll(ctx); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Register(&fakeEntry{id: fmt.Sprintf("late-%d", i)}); err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, ErrDraining) {
				t.Errorf("err=%v, want ErrDraining", err)
			}
		}(i)
	}
	if !r.Wait(ctx) {
		t.Fatalf("Wait did not return after drain")
	}
	wg.Wait()
	if accepted.Load() != 0 || r.Count() != 0 {
		t.Fatalf("accepted=%d count=%d, want 0", accepted.Load(), r.Count())
	}
}
