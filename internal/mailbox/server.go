package mailbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/classifier"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/daemon"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
)

// Server serves one session at a time through the mailbox. Clients queue on
// the SERVER semaphore; the server itself only ever waits on REQUEST.
type Server struct {
	names      Names
	classifier classifier.Classifier
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	lock *daemon.Lockfile
	obj  *objects

	// running counts ServeSession calls in flight. The mappings are only
	// released once it drops to zero after Close.
	running atomic.Int32
	stopped atomic.Bool
	unmap   func() error
	release func() error
}

// ErrClosed is returned by Serve and ServeSession after Close.
var ErrClosed = errors.New("mailbox server closed")

// NewServer creates a server. Nothing is created in shared memory until
// Setup.
func NewServer(c classifier.Classifier, names Names, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Server{
		names:      names,
		classifier: c,
		logger:     logger.Named("mailbox"),
		metrics:    metrics,
		lock:       daemon.NewLockfile(filepath.Join(names.dir(), names.Lock())),
	}
}

// Setup takes the per-prefix lock and (re)creates the region and the
// semaphore triad.
func (s *Server) Setup() error {
	if err := s.lock.TryAcquire(); err != nil {
		return err
	}
	obj, err := create(s.names)
	if err != nil {
		return errors.Join(fmt.Errorf("create mailbox: %w", err), s.lock.Release())
	}
	s.obj = obj
	s.unmap = sync.OnceValue(obj.close)
	s.release = sync.OnceValue(func() error {
		return errors.Join(obj.remove(), s.lock.Release())
	})
	s.logger.Info("Mailbox attached",
		zap.String("region", obj.region.Path()),
		zap.Int("size", obj.region.Size()),
	)
	return nil
}

// Path returns where the mailbox region lives.
func (s *Server) Path() string {
	return filepath.Join(s.names.dir(), s.names.Region())
}

// Serve handles sessions until one fails or the server is closed. Any
// session failure is fatal to the server.
func (s *Server) Serve() error {
	for {
		if err := s.ServeSession(); err != nil {
			return err
		}
	}
}

// ServeSession handles exactly one client session: the count handshake
// followed by count request/response exchanges.
func (s *Server) ServeSession() (err error) {
	o := s.obj
	if o == nil {
		return errors.New("mailbox server not set up")
	}
	s.running.Add(1)
	defer func() {
		if s.running.Add(-1) == 0 && s.stopped.Load() {
			if uerr := s.unmap(); uerr != nil {
				s.logger.Warn("Unmap failed", zap.Error(uerr))
			}
		}
	}()
	if s.stopped.Load() {
		return ErrClosed
	}

	if err := o.request.Wait(); err != nil {
		return fmt.Errorf("wait for session: %w", err)
	}
	n, err := o.box.Count()
	if err != nil {
		return fmt.Errorf("read request count: %w", err)
	}

	sid := id.NewSessionID()
	log := s.logger.With(logging.Session(sid.String()), logging.Requests(n))
	log.Debug("Session started")
	s.metrics.SessionStarted(monitoring.TransportMailbox)
	defer func() {
		status := monitoring.StatusOK
		if err != nil {
			status = monitoring.StatusFailed
			log.Error("Session failed", zap.Error(err))
		} else if started, serr := sid.Started(); serr == nil {
			log.Debug("Session finished", zap.Duration("age", time.Since(started)))
		}
		s.metrics.SessionFinished(monitoring.TransportMailbox, status)
	}()

	if err := o.response.Post(); err != nil {
		return fmt.Errorf("acknowledge count: %w", err)
	}

	for i := uint32(0); i < n; i++ {
		if err := o.request.Wait(); err != nil {
			return fmt.Errorf("wait for request %d: %w", i, err)
		}
		vec, err := o.box.Vector()
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}

		timer := monitoring.NewTimer(s.metrics, monitoring.TransportMailbox)
		resp, err := s.classifier.Classify(vec)
		timer.Stop()
		if err != nil {
			return fmt.Errorf("classify request %d: %w", i, err)
		}

		o.box.PutResult(resp)
		if err := o.response.Post(); err != nil {
			return fmt.Errorf("post response %d: %w", i, err)
		}
	}
	return nil
}

// Close unlinks every object and releases the lock. It is safe to call
// while Serve is blocked or classifying: the session in progress keeps its
// mappings and finishes, and Serve then returns ErrClosed. The mappings are
// released by whichever of Close and the last session comes second.
func (s *Server) Close() error {
	if s.obj == nil {
		return s.lock.Release()
	}
	s.stopped.Store(true)
	err := s.release()
	if s.running.Load() == 0 {
		err = errors.Join(err, s.unmap())
	}
	return err
}
