package pipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// State is a worker's position in its session lifecycle.
type State int32

const (
	StateCreated State = iota
	StateAwaitCount
	StateServing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateAwaitCount:
		return "AWAIT_COUNT"
	case StateServing:
		return "SERVING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Worker serves one registered client over the FIFO pair named by its
// token.
type Worker struct {
	srv     *Server
	token   id.Token
	session id.SessionID
	logger  *logging.Logger

	state  atomic.Int32
	served atomic.Uint32
}

func newWorker(srv *Server, token id.Token) *Worker {
	sid := id.NewSessionID()
	return &Worker{
		srv:     srv,
		token:   token,
		session: sid,
		logger: srv.logger.Named("worker").With(
			logging.Session(sid.String()),
			logging.Token(uint32(token)),
		),
	}
}

// Token returns the client's registration token.
func (w *Worker) Token() id.Token { return w.token }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Served returns how many requests have been answered.
func (w *Worker) Served() uint32 { return w.served.Load() }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Debug("Worker state", logging.State(s.String()))
}

// Run performs the whole session. The inbound FIFO is removed when Run
// returns, whatever the outcome; the outbound FIFO is left for the client.
func (w *Worker) Run() (err error) {
	inPath := filepath.Join(w.srv.root, w.token.String())
	outPath := filepath.Join(w.srv.root, w.token.OutName())

	completed := false
	w.srv.metrics.SessionStarted(monitoring.TransportPipe)
	defer func() {
		status := monitoring.StatusFailed
		if completed && err == nil {
			status = monitoring.StatusOK
		}
		w.srv.metrics.SessionFinished(monitoring.TransportPipe, status)
		w.logger.Debug("Session finished",
			zap.String("status", status),
			zap.Uint32("served", w.served.Load()),
			sessionAge(w.session),
		)
		w.setState(StateDone)
	}()

	if err := mkfifo(inPath); err != nil {
		return err
	}
	if err := mkfifo(outPath); err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(inPath); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn("Failed to remove inbound FIFO", zap.Error(rmErr))
		}
	}()

	in, err := os.OpenFile(inPath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open inbound: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open outbound: %w", err)
	}
	defer out.Close()

	w.setState(StateAwaitCount)
	n, err := wire.ReadUint32(in)
	if err != nil {
		return fmt.Errorf("read request count: %w", err)
	}

	w.logger.Debug("Session started", logging.Requests(n))
	w.setState(StateServing)

	vec := make([]byte, wire.VectorSize)
	for i := uint32(0); i < n; i++ {
		if err := wire.ReadVector(in, vec); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}

		timer := monitoring.NewTimer(w.srv.metrics, monitoring.TransportPipe)
		resp, err := w.srv.classifier.Classify(vec)
		timer.Stop()
		if err != nil {
			return fmt.Errorf("classify request %d: %w", i, err)
		}

		if err := wire.WriteResponse(out, resp); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		w.served.Add(1)
	}
	completed = true
	return nil
}

// sessionAge is the time since the session id was minted.
func sessionAge(sid id.SessionID) zap.Field {
	started, err := sid.Started()
	if err != nil {
		return zap.Skip()
	}
	return zap.Duration("age", time.Since(started))
}
