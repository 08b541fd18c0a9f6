// Package wire defines the byte-level framing shared by both transports.
//
// Every multi-byte integer is a 4-byte big-endian unsigned word. A request
// payload is one raw 784-byte feature vector and a response is the matched
// training index followed by the predicted label byte.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// WordSize is the size of every integer on the wire.
	WordSize = 4
	// VectorSize is the size of one flattened 28x28 feature vector.
	VectorSize = 784
	// ResponseSize is the matched index word plus the label byte.
	ResponseSize = WordSize + 1
)

var (
	ErrShortVector = errors.New("feature vector must be exactly 784 bytes")
)

// Response is the classification result for one request.
type Response struct {
	Index uint32
	Label byte
}

// PutUint32 encodes v big-endian into the first four bytes of b.
func PutUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// Uint32 decodes a big-endian word from the first four bytes of b.
func Uint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// ReadUint32 blocks until a full word has been read from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [WordSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Uint32(b[:]), nil
}

// WriteUint32 writes v as a single 4-byte big-endian word.
func WriteUint32(w io.Writer, v uint32) error {
	var b [WordSize]byte
	PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadVector fills buf with exactly VectorSize bytes, accumulating across
// short reads.
func ReadVector(r io.Reader, buf []byte) error {
	if len(buf) != VectorSize {
		return ErrShortVector
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read vector: %w", err)
	}
	return nil
}

// WriteVector writes one feature vector.
func WriteVector(w io.Writer, v []byte) error {
	if len(v) != VectorSize {
		return ErrShortVector
	}
	if _, err := w.Write(v); err != nil {
		return fmt.Errorf("write vector: %w", err)
	}
	return nil
}

// MarshalBinary encodes the response as index word followed by label.
func (r Response) MarshalBinary() ([]byte, error) {
	b := make([]byte, ResponseSize)
	PutUint32(b, r.Index)
	b[WordSize] = r.Label
	return b, nil
}

// WriteResponse writes the 5-byte response frame in a single write.
func WriteResponse(w io.Writer, r Response) error {
	var b [ResponseSize]byte
	PutUint32(b[:], r.Index)
	b[WordSize] = r.Label
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// ReadResponse blocks until a full 5-byte response frame has been read.
func ReadResponse(r io.Reader) (Response, error) {
	var b [ResponseSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{Index: Uint32(b[:]), Label: b[WordSize]}, nil
}
