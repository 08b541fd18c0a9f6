package pipe

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/knnipc/internal/classifier"
	"github.com/GriffinCanCode/knnipc/internal/harness"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/shared/id"
	"github.com/GriffinCanCode/knnipc/internal/testutil"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

const waitFor = 10 * time.Second

type testServer struct {
	*Server
	mu      sync.Mutex
	workers []*Worker
}

func (ts *testServer) Workers() []*Worker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]*Worker(nil), ts.workers...)
}

func startServer(t *testing.T, c classifier.Classifier) *testServer {
	t.Helper()
	srv := NewServer(t.TempDir(), c, nil, monitoring.NewMetrics())
	ts := &testServer{Server: srv}
	srv.spawned = func(w *Worker) {
		ts.mu.Lock()
		ts.workers = append(ts.workers, w)
		ts.mu.Unlock()
	}
	require.NoError(t, srv.Listen())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(waitFor):
			t.Error("Serve did not return after Close")
		}
	})
	return ts
}

func dial(t *testing.T, root string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, root, nil)
	require.NoError(t, err)
	return c
}

func waitIdle(t *testing.T, srv *testServer) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Supervisor().Active() == 0 }, waitFor, 5*time.Millisecond)
}

func TestSessionResponsesInOrder(t *testing.T) {
	srv := startServer(t, testutil.EchoClassifier{})
	client := dial(t, srv.Root())

	const n = 40
	sess, err := client.Open(n)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		resp, err := sess.Classify(testutil.Vector(byte(i)))
		require.NoError(t, err)
		assert.Equal(t, wire.Response{Index: uint32(i), Label: byte(i)}, resp)
	}
	_, err = sess.Classify(testutil.Vector(0))
	assert.ErrorIs(t, err, ErrSessionExhausted)
	require.NoError(t, sess.Close())

	_, err = sess.Classify(testutil.Vector(0))
	assert.ErrorIs(t, err, ErrSessionClosed)

	waitIdle(t, srv)
	workers := srv.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, StateDone, workers[0].State())
	assert.Equal(t, uint32(n), workers[0].Served())
	assert.Equal(t, int64(0), srv.Supervisor().Failures())
	assert.Equal(t, int64(1), srv.metrics.Snapshot().Registrations)
}

func TestSessionCleanupAsymmetry(t *testing.T) {
	srv := startServer(t, testutil.EchoClassifier{})
	client := dial(t, srv.Root())
	client.newToken = func() id.Token { return 4242 }

	sess, err := client.Open(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := sess.Classify(testutil.Vector(1))
		require.NoError(t, err)
	}
	waitIdle(t, srv)

	inPath := filepath.Join(srv.Root(), "4242")
	outPath := filepath.Join(srv.Root(), "4242_out")
	_, err = os.Lstat(inPath)
	assert.True(t, os.IsNotExist(err), "inbound FIFO should be removed by the worker")
	assert.True(t, isFIFO(outPath), "outbound FIFO should remain for the client")

	entries, err := os.ReadDir(srv.Root())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{RequestsName, "4242_out"}, names)

	require.NoError(t, sess.Close())
	_, err = os.Lstat(outPath)
	assert.True(t, os.IsNotExist(err))
}

func TestZeroRequestSession(t *testing.T) {
	m := testutil.NewMockClassifier(t)
	srv := startServer(t, m)
	client := dial(t, srv.Root())

	sess, err := client.Open(0)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	waitIdle(t, srv)
	assert.Equal(t, int64(0), srv.Supervisor().Failures())
	m.AssertNotCalled(t, "Classify", mock.Anything)
}

// rawSession registers tok and opens the FIFO pair the way a client does,
// without going through Client.
func rawSession(t *testing.T, root string, tok id.Token) (in, out *os.File) {
	t.Helper()
	requests, err := os.OpenFile(filepath.Join(root, RequestsName), os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, wire.WriteUint32(requests, uint32(tok)))
	require.NoError(t, requests.Close())

	require.NoError(t, mkfifo(filepath.Join(root, tok.String())))
	require.NoError(t, mkfifo(filepath.Join(root, tok.OutName())))
	in, err = os.OpenFile(filepath.Join(root, tok.String()), os.O_WRONLY, 0)
	require.NoError(t, err)
	out, err = os.OpenFile(filepath.Join(root, tok.OutName()), os.O_RDONLY, 0)
	require.NoError(t, err)
	return in, out
}

func TestPartialWritesAccumulate(t *testing.T) {
	query := make([]byte, wire.VectorSize)
	for i := range query {
		query[i] = byte(i)
	}
	m := new(testutil.MockClassifier)
	m.On("Classify", query).Return(wire.Response{Index: 7, Label: 3}, nil).Once()

	srv := startServer(t, m)
	in, out := rawSession(t, srv.Root(), 99)
	defer in.Close()
	defer out.Close()

	require.NoError(t, wire.WriteUint32(in, 1))
	for off := 0; off < len(query); off += 100 {
		end := min(off+100, len(query))
		_, err := in.Write(query[off:end])
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	resp, err := wire.ReadResponse(out)
	require.NoError(t, err)
	assert.Equal(t, wire.Response{Index: 7, Label: 3}, resp)

	waitIdle(t, srv)
	m.AssertExpectations(t)
}

// gateClassifier blocks queries starting with block until gate is closed.
type gateClassifier struct {
	block byte
	gate  chan struct{}
}

func (g gateClassifier) Classify(q []byte) (wire.Response, error) {
	if q[0] == g.block {
		<-g.gate
	}
	return testutil.EchoClassifier{}.Classify(q)
}

func TestDaemonResponsiveWithSlowWorker(t *testing.T) {
	gate := make(chan struct{})
	srv := startServer(t, gateClassifier{block: 1, gate: gate})
	client := dial(t, srv.Root())

	slow, err := client.Open(1)
	require.NoError(t, err)
	slowDone := make(chan wire.Response, 1)
	go func() {
		resp, err := slow.Classify(testutil.Vector(1))
		assert.NoError(t, err)
		slowDone <- resp
	}()
	require.Eventually(t, func() bool { return srv.Supervisor().Active() == 1 }, waitFor, time.Millisecond)

	fastDone := make(chan error, 1)
	go func() {
		sess, err := client.Open(5)
		if err != nil {
			fastDone <- err
			return
		}
		for i := 0; i < 5; i++ {
			if _, err := sess.Classify(testutil.Vector(2)); err != nil {
				fastDone <- err
				return
			}
		}
		fastDone <- sess.Close()
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("second session was delayed by the slow worker")
	}
	select {
	case <-slowDone:
		t.Fatal("slow session finished before being released")
	default:
	}

	close(gate)
	select {
	case resp := <-slowDone:
		assert.Equal(t, byte(1), resp.Label)
	case <-time.After(waitFor):
		t.Fatal("slow session never finished")
	}
	require.NoError(t, slow.Close())
	waitIdle(t, srv)
	assert.Equal(t, int64(2), srv.Supervisor().Started())
}

func TestWorkerFailureIsContained(t *testing.T) {
	srv := startServer(t, testutil.EchoClassifier{})

	in, out := rawSession(t, srv.Root(), 7)
	require.NoError(t, wire.WriteUint32(in, 2))
	require.NoError(t, wire.WriteVector(in, testutil.Vector(5)))
	_, err := wire.ReadResponse(out)
	require.NoError(t, err)
	// Hang up with one request outstanding.
	require.NoError(t, in.Close())
	require.NoError(t, out.Close())

	require.Eventually(t, func() bool { return srv.Supervisor().Failures() == 1 }, waitFor, 5*time.Millisecond)
	waitIdle(t, srv)
	_, err = os.Lstat(filepath.Join(srv.Root(), "7"))
	assert.True(t, os.IsNotExist(err))

	client := dial(t, srv.Root())
	sess, err := client.Open(1)
	require.NoError(t, err)
	resp, err := sess.Classify(testutil.Vector(9))
	require.NoError(t, err)
	assert.Equal(t, byte(9), resp.Label)
	require.NoError(t, sess.Close())
}

func TestWorkerPanicIsContained(t *testing.T) {
	m := new(testutil.MockClassifier)
	m.On("Classify", mock.Anything).Panic("corrupt training set").Once()

	srv := startServer(t, m)
	client := dial(t, srv.Root())

	sess, err := client.Open(1)
	require.NoError(t, err)
	_, err = sess.Classify(testutil.Vector(3))
	assert.Error(t, err)
	require.NoError(t, sess.Close())

	require.Eventually(t, func() bool { return srv.Supervisor().Failures() == 1 }, waitFor, 5*time.Millisecond)
	waitIdle(t, srv)
	assert.Equal(t, int64(1), srv.metrics.Snapshot().WorkerFailures)
}

func TestHarnessOverPipes(t *testing.T) {
	train := testutil.Dataset(30)
	knn, err := classifier.New(train, 1)
	require.NoError(t, err)

	srv := startServer(t, knn)
	client := dial(t, srv.Root())

	report, err := harness.Run(client, train, harness.Options{Tests: 30, Name: "pipe"})
	require.NoError(t, err)
	assert.Equal(t, 30, report.Total)
	assert.Equal(t, 30, report.Correct)
	assert.InDelta(t, 100.0, report.Accuracy, 1e-9)
}

func TestDialWaitsForRequests(t *testing.T) {
	root := t.TempDir()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_, err := Dial(ctx, root, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	srv := NewServer(root, testutil.EchoClassifier{}, nil, nil)
	require.NoError(t, srv.Listen())
	defer srv.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Dial did not notice REQUESTS")
	}
}

func TestDialErrors(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, t.TempDir(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServeRequiresListen(t *testing.T) {
	srv := NewServer(t.TempDir(), testutil.EchoClassifier{}, nil, nil)
	assert.Error(t, srv.Serve())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Listen(), ErrClosed)
}

func TestListenRejectsNonFIFO(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, RequestsName), nil, 0o644))

	srv := NewServer(root, testutil.EchoClassifier{}, nil, nil)
	assert.Error(t, srv.Listen())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CREATED", StateCreated.String())
	assert.Equal(t, "AWAIT_COUNT", StateAwaitCount.String())
	assert.Equal(t, "SERVING", StateServing.String())
	assert.Equal(t, "DONE", StateDone.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestOpenFailureRemovesSessionFIFOs(t *testing.T) {
	// Listening without serving: registrations are accepted but no worker
	// ever touches the session entries.
	srv := NewServer(t.TempDir(), testutil.EchoClassifier{}, nil, nil)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	client := dial(t, srv.Root())
	client.newToken = func() id.Token { return 4343 }

	// A directory in place of <token> makes opening the request end fail.
	inPath := filepath.Join(srv.Root(), "4343")
	require.NoError(t, os.Mkdir(inPath, 0o755))

	_, err := client.Open(1)
	require.Error(t, err)

	_, err = os.Lstat(filepath.Join(srv.Root(), "4343_out"))
	assert.True(t, os.IsNotExist(err), "response FIFO should be removed")
	fi, err := os.Lstat(inPath)
	require.NoError(t, err)
	assert.True(t, fi.IsDir(), "entries that are not FIFOs are left alone")
}

func TestRemoveFIFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "7")
	require.NoError(t, mkfifo(path))
	require.NoError(t, removeFIFO(path))
	assert.False(t, isFIFO(path))
	assert.NoError(t, removeFIFO(path))
}

func TestWorkerLogsSessionFinished(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	srv := NewServer(t.TempDir(), testutil.EchoClassifier{}, &logging.Logger{Logger: zap.New(core)}, nil)
	require.NoError(t, srv.Listen())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		assert.ErrorIs(t, <-errc, ErrClosed)
	})

	sess, err := dial(t, srv.Root()).Open(2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := sess.Classify(testutil.Vector(3))
		require.NoError(t, err)
	}
	require.NoError(t, sess.Close())

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Session finished").Len() == 1
	}, waitFor, 5*time.Millisecond)
	fields := logs.FilterMessage("Session finished").All()[0].ContextMap()
	assert.Equal(t, monitoring.StatusOK, fields["status"])
	assert.Equal(t, uint32(2), fields["served"])
	assert.Contains(t, fields, "age")
	assert.Contains(t, fields, "session")
}
