package pipe

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
)

// Supervisor starts workers and never waits for them. A worker's error or
// panic is logged and counted and goes no further.
type Supervisor struct {
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	active   atomic.Int64
	started  atomic.Int64
	failures atomic.Int64
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *logging.Logger, metrics *monitoring.Metrics) *Supervisor {
	return &Supervisor{logger: logger, metrics: metrics}
}

// Go runs fn on its own goroutine and returns immediately.
func (s *Supervisor) Go(name string, fn func() error) {
	s.active.Add(1)
	s.started.Add(1)
	s.metrics.WorkerStarted()

	go func() {
		failed := true
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Worker panicked",
					zap.String("worker", name),
					zap.String("panic", fmt.Sprint(r)),
					zap.Stack("stack"),
				)
			}
			if failed {
				s.failures.Add(1)
			}
			s.metrics.WorkerFinished(failed)
			s.active.Add(-1)
		}()

		if err := fn(); err != nil {
			s.logger.Error("Worker failed", zap.String("worker", name), zap.Error(err))
			return
		}
		failed = false
	}()
}

// Active returns the number of workers still running.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Started returns the number of workers ever started.
func (s *Supervisor) Started() int64 { return s.started.Load() }

// Failures returns the number of workers that ended with an error or panic.
func (s *Supervisor) Failures() int64 { return s.failures.Load() }
