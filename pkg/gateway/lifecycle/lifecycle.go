// Package lifecycle holds process state shared across handlers. It gates new
// sessions during graceful shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
)

type Lifecycle struct {
	draining     atomic.Bool
	drainStarted atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if draining && l.draining.CompareAndSwap(false, true) {
		l.drainStarted.Store(time.Now().UnixNano())
		return
	}
	if !draining {
		l.draining.Store(false)
		l.drainStarted.Store(0)
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince returns when draining began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainStarted.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Admit rejects new sessions once draining has begun.
func (l *Lifecycle) Admit() error {
	if l.IsDraining() {
		return apierror.ErrDraining
	}
	return nil
}
