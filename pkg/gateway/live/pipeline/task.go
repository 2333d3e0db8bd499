package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PushFunc sends a frame to the next stage. It returns false once the task
// is stopping.
type PushFunc func(Frame) bool

// Processor is one stage of the chain. Process is called sequentially, in
// arrival order, from the stage's own goroutine.
type Processor interface {
	Name() string
	Process(ctx context.Context, f Frame, push PushFunc) error
}

// Starter is implemented by stages that acquire resources before the first
// frame.
type Starter interface {
	Start(ctx context.Context) error
}

// Source is implemented by stages that also produce frames on their own,
// such as transport input. Run returns when ctx is done.
type Source interface {
	Run(ctx context.Context, push PushFunc) error
}

// Cleaner is implemented by stages holding resources released at task end.
type Cleaner interface {
	Cleanup()
}

// ErrTaskDone is returned when frames are queued to a finished task.
var ErrTaskDone = errors.New("pipeline task finished")

const frameBuffer = 64

// Task is the execution loop for one pipeline. Each stage runs in its own
// goroutine connected by channels; a stage error stops the whole task.
type Task struct {
	stages []Processor
	head   chan Frame
	logger *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	started   bool
	done      chan struct{}
}

// NewTask prepares a task. Frames may be queued before Run.
func NewTask(p *Pipeline, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		stages: p.Stages,
		head:   make(chan Frame, frameBuffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// QueueFrames injects frames at the head of the chain.
func (t *Task) QueueFrames(frames ...Frame) error {
	for _, f := range frames {
		select {
		case <-t.done:
			return ErrTaskDone
		default:
		}
		select {
		case t.head <- f:
		case <-t.done:
			return ErrTaskDone
		}
	}
	return nil
}

// Cancel stops the task at the next suspension point. Safe before Run and
// after completion.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed once Run has returned and stage resources are released.
func (t *Task) Done() <-chan struct{} { return t.done }

// Run drives frames until ctx is cancelled, Cancel is called, or a stage
// fails. Cancellation returns nil; a stage failure is returned.
func (t *Task) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("pipeline task already started")
	}
	t.started = true
	t.cancel = cancel
	if t.cancelled {
		cancel()
	}
	t.mu.Unlock()
	defer close(t.done)

	g, gctx := errgroup.WithContext(ctx)

	var started []Processor
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			if c, ok := started[i].(Cleaner); ok {
				c.Cleanup()
			}
		}
	}()
	for _, stage := range t.stages {
		if s, ok := stage.(Starter); ok {
			if err := s.Start(gctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("stage %s: start: %w", stage.Name(), err)
			}
		}
		started = append(started, stage)
	}

	in := t.head
	for i, stage := range t.stages {
		var out chan Frame
		if i < len(t.stages)-1 {
			out = make(chan Frame, frameBuffer)
		}
		push := func(f Frame) bool {
			if out == nil {
				return gctx.Err() == nil
			}
			select {
			case out <- f:
				return true
			case <-gctx.Done():
				return false
			}
		}

		stage, src := stage, in
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case f := <-src:
					if err := stage.Process(gctx, f, push); err != nil {
						return fmt.Errorf("stage %s: %w", stage.Name(), err)
					}
				}
			}
		})
		if s, ok := stage.(Source); ok {
			g.Go(func() error {
				if err := s.Run(gctx, push); err != nil {
					return fmt.Errorf("stage %s: %w", stage.Name(), err)
				}
				return nil
			})
		}
		in = out
	}

	err := g.Wait()
	if ctx.Err() != nil {
		// Cancelled from outside; stage errors after that are teardown noise.
		return nil
	}
	if err != nil {
		t.logger.Error("pipeline failed", "error", err)
	}
	return err
}
