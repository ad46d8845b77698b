package processing

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	rserial "sleepywoodpecker/serial-sensor-plotter/internal/rSerial"
)

type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateOpening
	StateReading
	StateStopping
	StateClosed
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateReading:
		return "reading"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type WorkerConfig struct {
	DeviceID    string
	BaudRate    int
	ReadTimeout time.Duration

	// 0 never gives up on recoverable faults
	MaxConsecutiveFaults int
	FaultBackoff         time.Duration
}

type WorkerStats struct {
	Accepted uint64
	Rejected uint64
	Faults   uint64
}

func (s WorkerStats) add(o WorkerStats) WorkerStats {
	return WorkerStats{
		Accepted: s.Accepted + o.Accepted,
		Rejected: s.Rejected + o.Rejected,
		Faults:   s.Faults + o.Faults,
	}
}

// Publisher receives every accepted sample, in read order, from the worker goroutine.
type Publisher interface {
	Publish(sample Sample)
}

// Worker owns one device handle and reads it on its own goroutine until stopped.
type Worker struct {
	cfg       WorkerConfig
	transport rserial.Transport
	sink      Publisher
	logger    *zap.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	// written before done is closed
	err error

	accepted atomic.Uint64
	rejected atomic.Uint64
	faults   atomic.Uint64
}

// StartWorker opens the device and begins reading. It returns once the open attempt has
// finished; an *OpenError means the worker is already Closed and nothing is left running.
func StartWorker(ctx context.Context, cfg WorkerConfig, transport rserial.Transport, sink Publisher, logger *zap.Logger) (*Worker, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		logger:    logger.With(zap.String("deviceID", cfg.DeviceID)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	opened := make(chan error, 1)
	go w.run(ctx, opened)

	if err := <-opened; err != nil {
		<-w.done
		cancel()
		return nil, err
	}
	return w, nil
}

// Stop signals the read loop and blocks until the goroutine has exited and the device is closed.
// Worst case latency is one read timeout. Safe to call more than once.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the terminal error once the worker has exited, nil for a requested stop.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Worker) DeviceID() string {
	return w.cfg.DeviceID
}

func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Stats counts a sample as accepted before it reaches the sink, never after.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Accepted: w.accepted.Load(),
		Rejected: w.rejected.Load(),
		Faults:   w.faults.Load(),
	}
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *Worker) run(ctx context.Context, opened chan<- error) {
	defer close(w.done)

	w.setState(StateOpening)
	port, err := w.transport.Open(w.cfg.DeviceID, w.cfg.BaudRate, w.cfg.ReadTimeout)
	if err != nil {
		w.logger.Error("[worker] error opening serial port", zap.Error(err))
		w.err = &OpenError{DeviceID: w.cfg.DeviceID, Err: err}
		w.setState(StateClosed)
		opened <- w.err
		return
	}
	defer w.release(port)

	w.setState(StateReading)
	w.logger.Info("[worker] reading from serial port", zap.Int("baudRate", w.cfg.BaudRate))
	opened <- nil

	w.err = w.readLoop(ctx, port)
}

func (w *Worker) release(port rserial.Port) {
	if err := port.Close(); err != nil {
		w.logger.Warn("[worker] error closing serial port", zap.Error(err))
	}
	w.setState(StateClosed)

	stats := w.Stats()
	w.logger.Info("[worker] serial port released",
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("faults", stats.Faults),
	)
}

func (w *Worker) readLoop(ctx context.Context, port rserial.Port) error {
	consecutiveFaults := 0

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopping)
			w.logger.Info("[worker] exiting from read loop")
			return nil
		default:
		}

		line, err := port.ReadLine()
		if errors.Is(err, rserial.ErrReadTimeout) {
			consecutiveFaults = 0
			continue
		}
		if errors.Is(err, rserial.ErrLineTooLong) {
			consecutiveFaults = 0
			w.rejected.Add(1)
			w.logger.Warn("[worker] invalid data received", zap.Error(err), zap.Int("length", len(line)))
			continue
		}
		if err != nil {
			consecutiveFaults++
			w.faults.Add(1)

			if rserial.IsUnrecoverable(err) || w.faultLimitReached(consecutiveFaults) {
				w.setState(StateStopping)
				w.logger.Error("[worker] giving up on serial port", zap.Error(err), zap.Int("consecutiveFaults", consecutiveFaults))
				return &TerminalFaultError{
					DeviceID:          w.cfg.DeviceID,
					ConsecutiveFaults: consecutiveFaults,
					Err:               err,
				}
			}

			w.logger.Warn("[worker] error while reading line from serial", zap.Error(err), zap.Int("consecutiveFaults", consecutiveFaults))
			w.backoff(ctx)
			continue
		}

		consecutiveFaults = 0
		w.handleLine(line)
	}
}

func (w *Worker) faultLimitReached(consecutiveFaults int) bool {
	return w.cfg.MaxConsecutiveFaults > 0 && consecutiveFaults >= w.cfg.MaxConsecutiveFaults
}

func (w *Worker) handleLine(line string) {
	sample, err := ParseLine(line)
	if err != nil {
		if errors.Is(err, ErrEmptyLine) {
			return
		}
		w.rejected.Add(1)
		w.logger.Warn("[worker] invalid data received", zap.Error(err), zap.String("rawLine", line))
		return
	}

	w.accepted.Add(1)
	w.sink.Publish(sample)
}

func (w *Worker) backoff(ctx context.Context) {
	if w.cfg.FaultBackoff <= 0 {
		return
	}

	timer := time.NewTimer(w.cfg.FaultBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
