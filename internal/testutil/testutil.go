// Package testutil provides fixtures and classifier doubles for package
// tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// MockClassifier is a mock implementation of classifier.Classifier.
type MockClassifier struct {
	mock.Mock
}

// Classify mocks the Classify method.
func (m *MockClassifier) Classify(query []byte) (wire.Response, error) {
	args := m.Called(query)
	return args.Get(0).(wire.Response), args.Error(1)
}

// NewMockClassifier creates a mock whose default answer is the zero
// response.
func NewMockClassifier(t *testing.T) *MockClassifier {
	t.Helper()
	m := new(MockClassifier)
	m.On("Classify", mock.Anything).
		Return(wire.Response{}, nil).
		Maybe()
	return m
}

// EchoClassifier answers with the query's first byte as both index and
// label. It makes response order checkable without a real dataset.
type EchoClassifier struct{}

// Classify implements classifier.Classifier.
func (EchoClassifier) Classify(query []byte) (wire.Response, error) {
	if len(query) != wire.VectorSize {
		return wire.Response{}, wire.ErrShortVector
	}
	return wire.Response{Index: uint32(query[0]), Label: query[0]}, nil
}

// Classifier is the subset of classifier.Classifier used here.
type Classifier interface {
	Classify(query []byte) (wire.Response, error)
}

// RecordingClassifier wraps another classifier and records the first byte of
// every query it sees, in call order. Delay slows every call down.
type RecordingClassifier struct {
	Next  Classifier
	Delay time.Duration

	mu   sync.Mutex
	seen []byte
}

// Classify implements classifier.Classifier.
func (r *RecordingClassifier) Classify(query []byte) (wire.Response, error) {
	r.mu.Lock()
	r.seen = append(r.seen, query[0])
	r.mu.Unlock()
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	next := r.Next
	if next == nil {
		next = EchoClassifier{}
	}
	return next.Classify(query)
}

// Seen returns a copy of the recorded first bytes.
func (r *RecordingClassifier) Seen() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.seen...)
}

// Vector returns a feature vector with every byte set to fill.
func Vector(fill byte) []byte {
	v := make([]byte, wire.VectorSize)
	for i := range v {
		v[i] = fill
	}
	return v
}

// Dataset builds n distinct samples labeled i%10. Sample i is a smooth
// gradient offset by i, so every sample is its own unique nearest neighbor.
func Dataset(n int) *dataset.Dataset {
	d := &dataset.Dataset{Samples: make([]dataset.Sample, n)}
	for i := range d.Samples {
		s := &d.Samples[i]
		for j := range s.Features {
			s.Features[j] = byte((i*13 + j/28) % 256)
		}
		s.Label = byte(i % 10)
	}
	return d
}

// DataDir writes train and test sets into a temporary directory in IDX
// format and returns its path.
func DataDir(t *testing.T, train, test *dataset.Dataset) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, dataset.WriteFiles(dir, dataset.Train, train, false))
	require.NoError(t, dataset.WriteFiles(dir, dataset.Test, test, false))
	return dir
}
