package pipe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
)

func TestSupervisorNeverWaits(t *testing.T) {
	sup := NewSupervisor(logging.NewNop(), monitoring.NewMetrics())
	release := make(chan struct{})

	start := time.Now()
	for i := 0; i < 5; i++ {
		sup.Go("blocked", func() error {
			<-release
			return nil
		})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(5), sup.Active())

	close(release)
	require.Eventually(t, func() bool { return sup.Active() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, int64(5), sup.Started())
	assert.Equal(t, int64(0), sup.Failures())
}

func TestSupervisorCountsFailures(t *testing.T) {
	metrics := monitoring.NewMetrics()
	sup := NewSupervisor(logging.NewNop(), metrics)

	sup.Go("err", func() error { return errors.New("read request 3: EOF") })
	sup.Go("panic", func() error { panic("boom") })
	sup.Go("ok", func() error { return nil })

	require.Eventually(t, func() bool { return sup.Active() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, int64(2), sup.Failures())

	snap := metrics.Snapshot()
	assert.Equal(t, int64(0), snap.ActiveWorkers)
	assert.Equal(t, int64(2), snap.WorkerFailures)
}
