package collaborator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher runs fire-and-forget side effects on their own goroutines.
// Tasks get a fresh context bounded by the task timeout, so they outlive the
// request that queued them. Wait drains outstanding tasks at shutdown.
type Dispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(taskTimeout time.Duration) *Dispatcher {
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Dispatcher{timeout: taskTimeout}
}

func (d *Dispatcher) Go(task string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked", "task", task, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			slog.Warn("background task failed", "task", task, "error", err)
		}
	}()
}

// Wait blocks until every queued task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
