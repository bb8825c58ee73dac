package drain

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
)

// Scheduler invokes a Worker's Run on a fixed interval. spec.md treats
// the external job scheduler as an out-of-scope collaborator; Scheduler
// is the thin wrapper an external scheduler can use directly, grounded
// on original_source's repeating-invocation test scenario rather than a
// replacement for a real host scheduler.
type Scheduler struct {
	Worker   *Worker
	Interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the periodic drain loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Debug("scheduler: invoking drain")
				s.Worker.Run(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler and waits for its goroutine to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
