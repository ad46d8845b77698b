package processing

import (
	"errors"
	"fmt"
)

var ErrSessionActive = errors.New("acquisition already running")

// OpenError is returned when the device could not be opened. The worker never started reading.
type OpenError struct {
	DeviceID string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("[worker] could not open %s: %v", e.DeviceID, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// TerminalFaultError ends a worker that stopped reading without being asked to.
type TerminalFaultError struct {
	DeviceID          string
	ConsecutiveFaults int
	Err               error
}

func (e *TerminalFaultError) Error() string {
	return fmt.Sprintf("[worker] gave up reading %s after %d consecutive faults: %v", e.DeviceID, e.ConsecutiveFaults, e.Err)
}

func (e *TerminalFaultError) Unwrap() error {
	return e.Err
}
