// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DEFAULT_MAX_LINE_LENGTH = 4096
const readChunkSize = 256

// ErrReadTimeout means no complete line arrived within one read timeout. It is not a fault.
var ErrReadTimeout = errors.New("no complete line within read timeout")

// ErrLineTooLong comes with the first MaxLineLength-or-more bytes of an unterminated line.
// The rest of that line, up to its '\n', is dropped.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Transport opens line-oriented connections to serial devices.
type Transport interface {
	Open(deviceID string, baudRate int, readTimeout time.Duration) (Port, error)
}

// Port is one open device. It is owned by a single goroutine.
type Port interface {
	// ReadLine performs at most one timeout-bounded device read and returns the next
	// complete line without its '\n', ErrReadTimeout, or ErrLineTooLong with the dropped fragment.
	ReadLine() (string, error)
	Close() error
	Name() string
}

type SerialTransport struct {
	maxLineLength int
	logger        *zap.Logger
	openPort      func(portName string, mode *serial.Mode) (serial.Port, error)
}

func NewTransport(maxLineLength int, logger *zap.Logger) *SerialTransport {
	if maxLineLength <= 0 {
		maxLineLength = DEFAULT_MAX_LINE_LENGTH
	}
	return &SerialTransport{
		maxLineLength: maxLineLength,
		logger:        logger,
		openPort:      serial.Open,
	}
}

// Open releases a partially configured port before returning an error.
func (t *SerialTransport) Open(deviceID string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
	}

	port, err := t.openPort(deviceID, mode)
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", deviceID, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		err = multierr.Append(fmt.Errorf("error setting read timeout on %s: %w", deviceID, err), port.Close())
		return nil, err
	}

	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Warn("[rserial] could not reset input buffer", zap.Error(err), zap.String("portName", deviceID))
	}

	t.logger.Info("[rserial] serial port opened",
		zap.String("portName", deviceID),
		zap.Int("baudRate", baudRate),
		zap.Duration("readTimeout", readTimeout),
	)

	return newRSerial(deviceID, port, t.maxLineLength), nil
}

type rserial struct {
	src           io.ReadCloser
	portName      string
	tempBuff      []byte
	pending       []byte
	maxLineLength int
	// set after an oversized flush until the rest of that line has been skipped
	discarding bool
}

func newRSerial(portName string, src io.ReadCloser, maxLineLength int) *rserial {
	return &rserial{
		src:           src,
		portName:      portName,
		tempBuff:      make([]byte, readChunkSize),
		maxLineLength: maxLineLength,
	}
}

func (r *rserial) Name() string {
	return r.portName
}

func (r *rserial) ReadLine() (string, error) {
	if line, ok := r.nextLine(); ok {
		return line, nil
	}

	// go.bug.st/serial reports an expired read timeout as (0, nil)
	n, err := r.src.Read(r.tempBuff)
	if n > 0 {
		r.pending = append(r.pending, r.tempBuff[:n]...)
	}
	if err != nil {
		return "", err
	}

	if line, ok := r.nextLine(); ok {
		return line, nil
	}

	if len(r.pending) >= r.maxLineLength {
		fragment := string(r.pending)
		r.pending = r.pending[:0]
		r.discarding = true
		return fragment, ErrLineTooLong
	}

	return "", ErrReadTimeout
}

func (r *rserial) nextLine() (string, bool) {
	if r.discarding {
		idx := bytes.IndexByte(r.pending, '\n')
		if idx < 0 {
			r.pending = r.pending[:0]
			return "", false
		}
		r.pending = append(r.pending[:0], r.pending[idx+1:]...)
		r.discarding = false
	}

	idx := bytes.IndexByte(r.pending, '\n')
	if idx < 0 {
		return "", false
	}

	line := string(r.pending[:idx])
	r.pending = append(r.pending[:0], r.pending[idx+1:]...)
	return line, true
}

func (r *rserial) Close() error {
	return r.src.Close()
}
