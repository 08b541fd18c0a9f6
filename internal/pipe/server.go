// Package pipe implements the named-pipe server variant and its client.
//
// The daemon reads 4-byte big-endian session tokens from the REQUESTS FIFO
// in its root and hands each to a Worker. The Worker and the client then
// rendezvous on two private FIFOs: <token> carries the request count and
// the vectors, <token>_out carries the 5-byte responses.
package pipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/classifier"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// ErrClosed is returned by Serve after Close.
var ErrClosed = errors.New("pipe server closed")

// Server is the daemon's context: everything a Worker needs is reachable
// from here.
type Server struct {
	root       string
	classifier classifier.Classifier
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	supervisor *Supervisor

	mu       sync.Mutex
	requests *os.File
	closed   bool

	// spawned is called with each new worker before it starts. Tests use it
	// to observe workers.
	spawned func(*Worker)
}

// NewServer creates a server rooted at root.
func NewServer(root string, c classifier.Classifier, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	logger = logger.Named("pipe")
	return &Server{
		root:       root,
		classifier: c,
		logger:     logger,
		metrics:    metrics,
		supervisor: NewSupervisor(logger, metrics),
	}
}

// Root returns the server root directory.
func (s *Server) Root() string { return s.root }

// Supervisor returns the worker supervisor.
func (s *Server) Supervisor() *Supervisor { return s.supervisor }

// Listen creates REQUESTS and opens it read-write, so reads block while no
// client has it open instead of reporting end of file.
func (s *Server) Listen() error {
	path := filepath.Join(s.root, RequestsName)
	if err := mkfifo(path); err != nil {
		return fmt.Errorf("create %s: %w", RequestsName, err)
	}
	if !isFIFO(path) {
		return fmt.Errorf("%s exists and is not a FIFO", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", RequestsName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		f.Close()
		return ErrClosed
	}
	s.requests = f
	s.logger.Info("Listening for registrations", zap.String("fifo", path))
	return nil
}

// Serve reads registrations in arrival order and starts one Worker per
// token. It never waits for a Worker. It returns ErrClosed after Close and
// any other read error as fatal.
func (s *Server) Serve() error {
	s.mu.Lock()
	requests := s.requests
	s.mu.Unlock()
	if requests == nil {
		return errors.New("pipe server is not listening")
	}

	for {
		tok, err := wire.ReadUint32(requests)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("read registration: %w", err)
		}
		s.metrics.RecordRegistration()

		w := newWorker(s, id.Token(tok))
		w.logger.Debug("Registration accepted")
		if s.spawned != nil {
			s.spawned(w)
		}
		s.supervisor.Go(w.token.String(), w.Run)
	}
}

// Close stops Serve. Running workers are not interrupted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.requests == nil {
		return nil
	}
	err := s.requests.Close()
	s.requests = nil
	return err
}
