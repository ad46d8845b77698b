package processing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	rserial "sleepywoodpecker/serial-sensor-plotter/internal/rSerial"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestWorker_PublishesAcceptedAndReportsRejected(t *testing.T) {
	transport := newFakeTransport()
	store := NewDataSampleStore()
	logger, logs := observedLogger()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, store, logger)
	require.NoError(t, err)
	t.Cleanup(worker.Stop)

	transport.send("1.0\r", "bad", "", "2.0")

	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return worker.Stats().Rejected == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, []Sample{1.0, 2.0}, store.DrainNew())
	require.Equal(t, StateReading, worker.State())

	rejections := logs.FilterMessage("[worker] invalid data received").All()
	require.Len(t, rejections, 1)
	assert.Equal(t, "bad", rejections[0].ContextMap()["rawLine"])

	stats := worker.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(0), stats.Faults)
}

func TestWorker_RejectsOversizedLine(t *testing.T) {
	transport := newFakeTransport()
	store := NewDataSampleStore()
	logger, logs := observedLogger()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, store, logger)
	require.NoError(t, err)
	t.Cleanup(worker.Stop)

	transport.feed <- lineResult{line: "99999999", err: rserial.ErrLineTooLong}
	transport.send("3.5")

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []Sample{3.5}, store.CollectedSoFar())

	stats := worker.Stats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(0), stats.Faults)
	assert.Equal(t, 1, logs.FilterMessage("[worker] invalid data received").Len())
}

// acceptedAtPublish records the worker's accepted count as each sample arrives.
type acceptedAtPublish struct {
	worker atomic.Pointer[Worker]
	seen   chan uint64
}

func (s *acceptedAtPublish) Publish(Sample) {
	s.seen <- s.worker.Load().Stats().Accepted
}

func TestWorker_CountsAcceptedBeforePublishing(t *testing.T) {
	transport := newFakeTransport()
	sink := &acceptedAtPublish{seen: make(chan uint64, 2)}

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, sink, zaptest.NewLogger(t))
	require.NoError(t, err)
	sink.worker.Store(worker)
	t.Cleanup(worker.Stop)

	transport.send("1.0", "2.0")

	for _, want := range []uint64{1, 2} {
		select {
		case got := <-sink.seen:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("sample never published")
		}
	}
}

func TestWorker_StopRightAfterStartReleasesDevice(t *testing.T) {
	transport := newFakeTransport()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, NewDataSampleStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	worker.Stop()

	select {
	case <-worker.Done():
	default:
		t.Fatal("Stop returned before the worker goroutine exited")
	}
	require.True(t, transport.lastPort().closed.Load())
	require.Equal(t, int32(0), transport.live())
	require.Equal(t, StateClosed, worker.State())
	require.NoError(t, worker.Err())

	// second stop is a no-op
	worker.Stop()
	require.Equal(t, int32(1), transport.closes.Load())
}

func TestWorker_StopLatencyBoundedByReadTimeout(t *testing.T) {
	transport := newFakeTransport()
	cfg := testWorkerConfig()
	cfg.ReadTimeout = 100 * time.Millisecond

	worker, err := StartWorker(context.Background(), cfg, transport, NewDataSampleStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	worker.Stop()

	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWorker_OpenFailureNeverReads(t *testing.T) {
	transport := newFakeTransport()
	transport.openErr = errors.New("device busy")
	logger, logs := observedLogger()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, NewDataSampleStore(), logger)
	require.Nil(t, worker)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "/dev/ttyFAKE0", openErr.DeviceID)
	assert.ErrorIs(t, err, transport.openErr)
	assert.Equal(t, int32(0), transport.opens.Load())
	assert.Equal(t, 1, logs.FilterMessage("[worker] error opening serial port").Len())
}

func TestWorker_KeepsReadingThroughRecoverableFaults(t *testing.T) {
	transport := newFakeTransport()
	store := NewDataSampleStore()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(worker.Stop)

	for i := 0; i < 5; i++ {
		transport.fault(errors.New("input/output error"))
	}
	transport.send("7.5")

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(5), worker.Stats().Faults)
	require.NoError(t, worker.Err())
	require.Equal(t, StateReading, worker.State())
}

func TestWorker_GivesUpAfterConsecutiveFaultLimit(t *testing.T) {
	transport := newFakeTransport()
	cfg := testWorkerConfig()
	cfg.MaxConsecutiveFaults = 3

	worker, err := StartWorker(context.Background(), cfg, transport, NewDataSampleStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	fault := errors.New("input/output error")
	transport.fault(fault)
	transport.send("1.0") // resets the run
	transport.fault(fault)
	transport.fault(fault)
	transport.fault(fault)

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after reaching the fault limit")
	}

	var terminal *TerminalFaultError
	require.ErrorAs(t, worker.Err(), &terminal)
	assert.Equal(t, 3, terminal.ConsecutiveFaults)
	assert.ErrorIs(t, worker.Err(), fault)
	assert.Equal(t, StateClosed, worker.State())
	assert.Equal(t, uint64(4), worker.Stats().Faults)
	assert.Equal(t, int32(0), transport.live())
}

func TestWorker_UnrecoverableFaultEndsImmediately(t *testing.T) {
	transport := newFakeTransport()

	worker, err := StartWorker(context.Background(), testWorkerConfig(), transport, NewDataSampleStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	transport.fault(errors.New("read /dev/ttyFAKE0: no such device"))

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker kept reading a removed device")
	}

	var terminal *TerminalFaultError
	require.ErrorAs(t, worker.Err(), &terminal)
	assert.Equal(t, 1, terminal.ConsecutiveFaults)
	assert.Equal(t, int32(0), transport.live())
}

func TestWorker_ParentContextCancelStops(t *testing.T) {
	transport := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())

	worker, err := StartWorker(ctx, testWorkerConfig(), transport, NewDataSampleStore(), zaptest.NewLogger(t))
	require.NoError(t, err)

	cancel()

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker ignored parent cancellation")
	}
	require.NoError(t, worker.Err())
	require.Equal(t, int32(0), transport.live())
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", WorkerState(42).String())
}
