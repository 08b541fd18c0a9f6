package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/testutil"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// fakeTransport answers in process through a classifier.
type fakeTransport struct {
	c       testutil.Classifier
	failAt  int
	opened  []uint32
	session *fakeSession
}

type fakeSession struct {
	t      *fakeTransport
	calls  int
	closed int
}

func (f *fakeTransport) Open(n uint32) (Session, error) {
	f.opened = append(f.opened, n)
	f.session = &fakeSession{t: f}
	return f.session, nil
}

func (s *fakeSession) Classify(v []byte) (wire.Response, error) {
	s.calls++
	if s.t.failAt > 0 && s.calls == s.t.failAt {
		return wire.Response{}, errors.New("broken pipe")
	}
	return s.t.c.Classify(v)
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

// labeled returns a test set whose first byte equals its label for even
// samples and differs for odd ones, so EchoClassifier gets half right.
func labeled(n int) *dataset.Dataset {
	d := &dataset.Dataset{Samples: make([]dataset.Sample, n)}
	for i := range d.Samples {
		d.Samples[i].Label = byte(i % 10)
		fill := byte(i % 10)
		if i%2 == 1 {
			fill = 200
		}
		copy(d.Samples[i].Features[:], testutil.Vector(fill))
	}
	return d
}

func TestRunTallies(t *testing.T) {
	tr := &fakeTransport{c: testutil.EchoClassifier{}}

	report, err := Run(tr, labeled(6), Options{Tests: 6, Name: "fake"})
	require.NoError(t, err)

	assert.Equal(t, []uint32{6}, tr.opened)
	assert.Equal(t, 6, tr.session.calls)
	assert.Equal(t, 1, tr.session.closed)

	assert.Equal(t, "fake", report.Transport)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 3, report.Correct)
	assert.InDelta(t, 50.0, report.Accuracy, 1e-9)
	require.Len(t, report.Mismatches, 3)
	assert.Equal(t, Mismatch{Predicted: 200, Index: 200, Actual: 1, Sample: 1}, report.Mismatches[0])
	assert.GreaterOrEqual(t, report.LatencyMean, time.Duration(0))
}

func TestRunCapsAtTestSetSize(t *testing.T) {
	tr := &fakeTransport{c: testutil.EchoClassifier{}}

	report, err := Run(tr, labeled(4), Options{Tests: DefaultTests})
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, tr.opened)
	assert.Equal(t, 4, report.Total)
}

func TestRunZeroTests(t *testing.T) {
	tr := &fakeTransport{c: testutil.EchoClassifier{}}

	report, err := Run(tr, labeled(4), Options{Tests: 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, tr.opened)
	assert.Equal(t, 0, tr.session.calls)
	assert.Equal(t, 1, tr.session.closed)
	assert.Zero(t, report.Accuracy)
	assert.Zero(t, report.LatencyStdDev)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	assert.Equal(t, "0.0% success\n", buf.String())
}

func TestRunNegativeTests(t *testing.T) {
	_, err := Run(&fakeTransport{c: testutil.EchoClassifier{}}, labeled(1), Options{Tests: -1})
	assert.Error(t, err)
}

func TestRunClosesOnFailure(t *testing.T) {
	tr := &fakeTransport{c: testutil.EchoClassifier{}, failAt: 2}

	_, err := Run(tr, labeled(5), Options{Tests: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 1")
	assert.Equal(t, 1, tr.session.closed)
}

func TestWriteText(t *testing.T) {
	r := &Report{
		Total:    4,
		Correct:  3,
		Accuracy: 75,
		Mismatches: []Mismatch{
			{Predicted: 7, Index: 1234, Actual: 1, Sample: 2},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Equal(t, "7[1234] 1[2]\n75.0% success\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	r := &Report{Transport: "mailbox", Total: 2, Correct: 2, Accuracy: 100, LatencyMean: time.Millisecond}

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "mailbox", decoded["transport"])
	assert.Equal(t, 100.0, decoded["accuracy_percent"])
	assert.Equal(t, float64(time.Millisecond), decoded["latency_mean_ns"])
	assert.Equal(t, []any{}, decoded["mismatches"])
}
