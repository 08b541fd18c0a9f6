// Package mailbox implements the shared-memory server variant: one 1024-byte
// region guarded by three semaphores and reused by every session.
//
// Messages occupy fixed offsets of the region and carry a kind tag at
// TagOffset, so each reader checks that the region holds what the protocol
// phase expects.
package mailbox

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/knnipc/internal/wire"
)

const (
	// Size is the length of the mailbox region.
	Size = 1024
	// TagOffset is the first byte after the vector payload.
	TagOffset = wire.VectorSize

	labelOffset = wire.WordSize
)

// Kind identifies the message currently held by the mailbox.
type Kind byte

const (
	KindEmpty Kind = iota
	KindCount
	KindVector
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCount:
		return "count"
	case KindVector:
		return "vector"
	case KindResult:
		return "result"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ErrUnexpectedMessage is returned when the region holds a different kind
// of message than the reader expects.
var ErrUnexpectedMessage = errors.New("unexpected mailbox message")

// Mailbox is a view over a mapped region of at least Size bytes.
type Mailbox struct {
	buf []byte
}

// New wraps buf, which must be at least Size bytes.
func New(buf []byte) Mailbox {
	if len(buf) < Size {
		panic(fmt.Sprintf("mailbox: region is %d bytes, need %d", len(buf), Size))
	}
	return Mailbox{buf: buf[:Size]}
}

// Kind returns the tag of the current message.
func (m Mailbox) Kind() Kind {
	return Kind(m.buf[TagOffset])
}

// Reset clears the region and tags it empty.
func (m Mailbox) Reset() {
	clear(m.buf)
}

func (m Mailbox) expect(k Kind) error {
	if got := m.Kind(); got != k {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedMessage, k, got)
	}
	return nil
}

// PutCount stores a session's request count at [0,4).
func (m Mailbox) PutCount(n uint32) {
	wire.PutUint32(m.buf, n)
	m.buf[TagOffset] = byte(KindCount)
}

// Count reads the request count.
func (m Mailbox) Count() (uint32, error) {
	if err := m.expect(KindCount); err != nil {
		return 0, err
	}
	return wire.Uint32(m.buf), nil
}

// PutVector copies a feature vector into [0,784).
func (m Mailbox) PutVector(v []byte) error {
	if len(v) != wire.VectorSize {
		return wire.ErrShortVector
	}
	copy(m.buf[:wire.VectorSize], v)
	m.buf[TagOffset] = byte(KindVector)
	return nil
}

// Vector returns the payload in place. The slice aliases shared memory and
// is only valid until the next message is written.
func (m Mailbox) Vector() ([]byte, error) {
	if err := m.expect(KindVector); err != nil {
		return nil, err
	}
	return m.buf[:wire.VectorSize], nil
}

// PutResult stores the matched index at [0,4) and the label word at [4,8).
func (m Mailbox) PutResult(r wire.Response) {
	wire.PutUint32(m.buf, r.Index)
	wire.PutUint32(m.buf[labelOffset:], uint32(r.Label))
	m.buf[TagOffset] = byte(KindResult)
}

// Result reads a classification result.
func (m Mailbox) Result() (wire.Response, error) {
	if err := m.expect(KindResult); err != nil {
		return wire.Response{}, err
	}
	return wire.Response{
		Index: wire.Uint32(m.buf),
		Label: byte(wire.Uint32(m.buf[labelOffset:])),
	}, nil
}
