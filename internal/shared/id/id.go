// Package id provides identifier generation for sessions and wire tokens.
//
// Two kinds of identifiers are produced:
//   - Session log ids: prefixed ULIDs (sess_*) that sort by creation time
//     and make log lines easy to correlate.
//   - Wire tokens: opaque 32-bit values naming a pipe session's FIFOs.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a client session in logs.
type SessionID string

// Token is the 32-bit value a pipe client registers with.
type Token uint32

const (
	SessionPrefix = "sess"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// Token derives a 32-bit token from the random tail of a fresh ULID.
// Zero is never returned.
func (g *Generator) Token() Token {
	for {
		u := g.Generate()
		if t := Token(binary.BigEndian.Uint32(u[12:])); t != 0 {
			return t
		}
	}
}

// NewSessionID generates a new session log id.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewToken generates a new wire token.
func NewToken() Token {
	return Default().Token()
}

func (id SessionID) String() string { return string(id) }

// String renders the token as the decimal FIFO name.
func (t Token) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// OutName is the name of the server-to-client FIFO for this token.
func (t Token) OutName() string {
	return t.String() + "_out"
}

// Started returns when the session id was generated, from its ULID time
// field. Precision is one millisecond.
func (id SessionID) Started() (time.Time, error) {
	s := string(id)
	if i := len(s) - ulid.EncodedSize; i > 0 {
		s = s[i:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("session id %q: %w", string(id), err)
	}
	return ulid.Time(parsed.Time()), nil
}
