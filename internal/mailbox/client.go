package mailbox

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/harness"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

var (
	ErrSessionExhausted = errors.New("session request count exhausted")
	ErrSessionClosed    = errors.New("session closed")
)

// Client attaches to a running mailbox server and implements
// harness.Transport.
type Client struct {
	obj    *objects
	logger *logging.Logger
}

// Dial attaches to the objects named by names.
func Dial(names Names, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	obj, err := attach(names)
	if err != nil {
		return nil, err
	}
	return &Client{obj: obj, logger: logger.Named("mailbox")}, nil
}

// Open waits for exclusive use of the mailbox and announces n requests.
// The mailbox stays leased until the returned session is closed.
func (c *Client) Open(n uint32) (harness.Session, error) {
	o := c.obj
	if err := o.server.Wait(); err != nil {
		return nil, fmt.Errorf("acquire mailbox: %w", err)
	}

	o.box.PutCount(n)
	if err := o.request.Post(); err != nil {
		return nil, errors.Join(fmt.Errorf("send count: %w", err), o.server.Post())
	}
	if err := o.response.Wait(); err != nil {
		return nil, errors.Join(fmt.Errorf("wait for count ack: %w", err), o.server.Post())
	}

	sid := id.NewSessionID()
	c.logger.Debug("Mailbox leased", logging.Session(sid.String()), logging.Requests(n))
	return &session{obj: o, remaining: n, logger: c.logger.With(logging.Session(sid.String()))}, nil
}

// Close detaches from the shared objects.
func (c *Client) Close() error {
	return c.obj.close()
}

type session struct {
	obj       *objects
	remaining uint32
	closed    bool
	logger    *logging.Logger
}

// Classify writes one vector and waits for its result.
func (s *session) Classify(vector []byte) (wire.Response, error) {
	if s.closed {
		return wire.Response{}, ErrSessionClosed
	}
	if s.remaining == 0 {
		return wire.Response{}, ErrSessionExhausted
	}
	if err := s.obj.box.PutVector(vector); err != nil {
		return wire.Response{}, err
	}
	if err := s.obj.request.Post(); err != nil {
		return wire.Response{}, fmt.Errorf("post request: %w", err)
	}
	if err := s.obj.response.Wait(); err != nil {
		return wire.Response{}, fmt.Errorf("wait for response: %w", err)
	}
	s.remaining--
	return s.obj.box.Result()
}

// Close releases the mailbox to the next client. Closing with requests
// still outstanding leaves the server expecting vectors; the next session
// will then fail on the server side.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.remaining > 0 {
		s.logger.Warn("Releasing mailbox with requests outstanding", zap.Uint32("outstanding", s.remaining))
	}
	if err := s.obj.server.Post(); err != nil {
		return fmt.Errorf("release mailbox: %w", err)
	}
	return nil
}
