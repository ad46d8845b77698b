package processing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	rserial "sleepywoodpecker/serial-sensor-plotter/internal/rSerial"
)

// Session lives for the whole process. It owns the collected series and at most one worker.
type Session struct {
	settings   WorkerConfig
	transport  rserial.Transport
	enumerator rserial.Enumerator
	logger     *zap.Logger
	store      *DataSampleStore

	// serializes Start and Stop, held across the worker join
	lifecycleMutex sync.Mutex

	// guards the fields below for readers that must not wait on a join
	mutex   sync.Mutex
	worker  *Worker
	lastErr error
	totals  WorkerStats
}

func NewSession(settings WorkerConfig, transport rserial.Transport, enumerator rserial.Enumerator, logger *zap.Logger) *Session {
	return &Session{
		settings:   settings,
		transport:  transport,
		enumerator: enumerator,
		logger:     logger,
		store:      NewDataSampleStore(),
	}
}

// Start opens deviceID, or the first available device when deviceID is empty, and starts
// reading it. While a worker is live it returns ErrSessionActive and opens nothing.
func (s *Session) Start(deviceID string) error {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	if current := s.currentWorker(); current != nil {
		select {
		case <-current.Done():
			// ended on its own after a terminal fault
			s.reap()
		default:
			s.logger.Warn("[session] start requested while acquisition is running")
			return ErrSessionActive
		}
	}

	if deviceID == "" {
		first, err := rserial.FirstAvailable(s.enumerator)
		if err != nil {
			if errors.Is(err, rserial.ErrNoDeviceFound) {
				s.logger.Error("[session] no serial ports found")
			} else {
				s.logger.Error("[session] could not enumerate serial ports", zap.Error(err))
			}
			return err
		}
		deviceID = first
	}

	cfg := s.settings
	cfg.DeviceID = deviceID

	worker, err := StartWorker(context.Background(), cfg, s.transport, s.store, s.logger)
	if err != nil {
		s.mutex.Lock()
		s.lastErr = err
		s.mutex.Unlock()
		return err
	}

	s.mutex.Lock()
	s.worker = worker
	s.lastErr = nil
	s.mutex.Unlock()

	s.logger.Info("[session] acquisition started", zap.String("deviceID", deviceID))
	return nil
}

// Stop ends the running worker and returns after its device handle is released.
func (s *Session) Stop() {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	current := s.currentWorker()
	if current == nil {
		return
	}

	current.Stop()
	s.reap()
	s.logger.Info("[session] acquisition stopped", zap.Int("collected", s.store.Len()))
}

// reap drops a finished worker. Callers hold lifecycleMutex.
func (s *Session) reap() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastErr = s.worker.Err()
	s.totals = s.totals.add(s.worker.Stats())
	s.worker = nil
}

func (s *Session) currentWorker() *Worker {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.worker
}

func (s *Session) DrainNew() []Sample {
	return s.store.DrainNew()
}

func (s *Session) CollectedSoFar() []Sample {
	return s.store.CollectedSoFar()
}

func (s *Session) State() WorkerState {
	if current := s.currentWorker(); current != nil {
		return current.State()
	}
	return StateIdle
}

// DeviceID names the device of the current worker, empty when idle.
func (s *Session) DeviceID() string {
	if current := s.currentWorker(); current != nil {
		return current.DeviceID()
	}
	return ""
}

// Done is closed when the current worker exits. With no worker it is already closed.
func (s *Session) Done() <-chan struct{} {
	if current := s.currentWorker(); current != nil {
		return current.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Err reports why the most recent worker ended, nil if it was stopped on request.
func (s *Session) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.worker != nil {
		return s.worker.Err()
	}
	return s.lastErr
}

// Stats sums the counters of every worker this session has run.
func (s *Session) Stats() WorkerStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.worker != nil {
		return s.totals.add(s.worker.Stats())
	}
	return s.totals
}
