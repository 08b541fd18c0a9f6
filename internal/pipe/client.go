package pipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/knnipc/internal/harness"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// Client registers with a pipe daemon and implements harness.Transport.
type Client struct {
	root   string
	logger *logging.Logger

	// newToken is replaceable in tests.
	newToken func() id.Token
}

// Dial checks that root exists and waits until the daemon has created
// REQUESTS in it.
func Dial(ctx context.Context, root string, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("server root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("server root %s is not a directory", root)
	}
	if err := waitForFile(ctx, root, RequestsName); err != nil {
		return nil, err
	}
	return &Client{root: root, logger: logger.Named("pipe"), newToken: id.NewToken}, nil
}

// Open registers a fresh token, joins the Worker on the private FIFO pair
// and announces n requests.
func (c *Client) Open(n uint32) (harness.Session, error) {
	tok := c.newToken()
	log := c.logger.With(logging.Token(uint32(tok)))

	if err := c.register(tok); err != nil {
		return nil, err
	}

	inPath := filepath.Join(c.root, tok.String())
	outPath := filepath.Join(c.root, tok.OutName())
	fail := func(err error) (harness.Session, error) {
		return nil, errors.Join(err, removeFIFO(inPath), removeFIFO(outPath))
	}
	if err := mkfifo(inPath); err != nil {
		return fail(err)
	}
	if err := mkfifo(outPath); err != nil {
		return fail(err)
	}

	// Same order as the Worker: its reading end of <token> pairs with our
	// writing end first, then the other way round on <token>_out.
	in, err := os.OpenFile(inPath, os.O_WRONLY, 0)
	if err != nil {
		return fail(fmt.Errorf("open request FIFO: %w", err))
	}
	out, err := os.OpenFile(outPath, os.O_RDONLY, 0)
	if err != nil {
		in.Close()
		return fail(fmt.Errorf("open response FIFO: %w", err))
	}

	s := &session{in: in, out: out, outPath: outPath, remaining: n}
	if err := wire.WriteUint32(in, n); err != nil {
		return nil, errors.Join(fmt.Errorf("send request count: %w", err), s.Close())
	}
	log.Debug("Session opened", logging.Requests(n))
	return s, nil
}

func (c *Client) register(tok id.Token) error {
	requests, err := os.OpenFile(filepath.Join(c.root, RequestsName), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", RequestsName, err)
	}
	if err := wire.WriteUint32(requests, uint32(tok)); err != nil {
		requests.Close()
		return fmt.Errorf("register: %w", err)
	}
	return requests.Close()
}

type session struct {
	in        *os.File
	out       *os.File
	outPath   string
	remaining uint32
	closed    bool
}

var (
	ErrSessionExhausted = errors.New("session request count exhausted")
	ErrSessionClosed    = errors.New("session closed")
)

// Classify sends one vector and reads its 5-byte response.
func (s *session) Classify(vector []byte) (wire.Response, error) {
	if s.closed {
		return wire.Response{}, ErrSessionClosed
	}
	if s.remaining == 0 {
		return wire.Response{}, ErrSessionExhausted
	}
	if err := wire.WriteVector(s.in, vector); err != nil {
		return wire.Response{}, err
	}
	resp, err := wire.ReadResponse(s.out)
	if err != nil {
		return wire.Response{}, err
	}
	s.remaining--
	return resp, nil
}

// Close closes both ends and removes <token>_out. The Worker removes
// <token>.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	errs := []error{s.in.Close(), s.out.Close()}
	if err := os.Remove(s.outPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
