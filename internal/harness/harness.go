// Package harness drives a classification session over any transport and
// tallies the results against the labeled test set.
package harness

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/wire"
)

// DefaultTests is the number of test vectors sent when none is configured.
const DefaultTests = 10000

// Session is a private channel to the server good for the request count it
// was opened with. Requests strictly alternate with responses.
type Session interface {
	Classify(vector []byte) (wire.Response, error)
	Close() error
}

// Transport opens sessions against a running server.
type Transport interface {
	Open(n uint32) (Session, error)
}

// Options configures Run.
type Options struct {
	// Tests is the number of leading test samples to send. It is capped at
	// the test-set size.
	Tests int
	// Name labels the report and log lines, e.g. "pipe".
	Name   string
	Logger *logging.Logger
	// ProgressInterval throttles progress logging. Zero means one second.
	ProgressInterval time.Duration
}

// Run opens one session, streams the first opts.Tests samples of test
// through it and returns the tally.
func Run(t Transport, test *dataset.Dataset, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	n := opts.Tests
	if n < 0 {
		return nil, fmt.Errorf("test count must not be negative, got %d", n)
	}
	if n > test.Len() {
		n = test.Len()
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}

	report := &Report{Transport: opts.Name}
	start := time.Now()

	sess, err := t.Open(uint32(n))
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	latencies := make([]float64, 0, n)
	progress := rate.Sometimes{Interval: interval}
	for i := 0; i < n; i++ {
		sample := test.At(i)

		sent := time.Now()
		resp, err := sess.Classify(sample.Features[:])
		if err != nil {
			return nil, errors.Join(fmt.Errorf("request %d: %w", i, err), sess.Close())
		}
		latencies = append(latencies, time.Since(sent).Seconds())

		report.Total++
		if resp.Label == sample.Label {
			report.Correct++
		} else {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Predicted: resp.Label,
				Index:     resp.Index,
				Actual:    sample.Label,
				Sample:    i,
			})
		}

		progress.Do(func() {
			logger.Info("Classification progress",
				logging.Transport(opts.Name),
				zap.Int("done", i+1),
				zap.Int("total", n),
			)
		})
	}

	if err := sess.Close(); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	report.Elapsed = time.Since(start)
	report.summarize(latencies)
	logger.Info("Session complete",
		logging.Transport(opts.Name),
		zap.Int("total", report.Total),
		zap.Int("correct", report.Correct),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (r *Report) summarize(latencies []float64) {
	if r.Total > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Total) * 100
	}
	if len(latencies) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(latencies, nil)
	if len(latencies) < 2 || math.IsNaN(std) {
		std = 0
	}
	r.LatencyMean = time.Duration(mean * float64(time.Second))
	r.LatencyStdDev = time.Duration(std * float64(time.Second))
}
