// Package config holds the settings for one acquisition run.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

const DEFAULT_BAUDRATE = 9600
const DEFAULT_READ_TIMEOUT = 1 * time.Second
const DEFAULT_SAMPLE_INTERVAL = 100 * time.Millisecond
const DEFAULT_FAULT_BACKOFF = 100 * time.Millisecond
const DEFAULT_MAX_LINE_LENGTH = 4096
const DEFAULT_LOG_FILE_PATH = "sensorplot.logs"
const DEFAULT_LOG_LEVEL = "info"

type Config struct {
	// empty means first available device
	DeviceID    string
	BaudRate    int
	ReadTimeout time.Duration

	SampleInterval time.Duration

	// 0 keeps reading through any number of recoverable read faults
	MaxConsecutiveFaults int
	FaultBackoff         time.Duration
	MaxLineLength        int

	// 0 keeps the whole plotted series
	PlotWindow int

	SaveDir      string
	LogFile      string
	LogLevel     string
	TelegrafAddr string
}

func Default() *Config {
	return &Config{
		BaudRate:       DEFAULT_BAUDRATE,
		ReadTimeout:    DEFAULT_READ_TIMEOUT,
		SampleInterval: DEFAULT_SAMPLE_INTERVAL,
		FaultBackoff:   DEFAULT_FAULT_BACKOFF,
		MaxLineLength:  DEFAULT_MAX_LINE_LENGTH,
		LogFile:        DEFAULT_LOG_FILE_PATH,
		LogLevel:       DEFAULT_LOG_LEVEL,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error

	if c.BaudRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("baud rate must be greater than 0, got %d", c.BaudRate))
	}
	if c.ReadTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("read timeout must be greater than 0, got %s", c.ReadTimeout))
	}
	if c.SampleInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("sample interval must be greater than 0, got %s", c.SampleInterval))
	}
	if c.MaxConsecutiveFaults < 0 {
		err = multierr.Append(err, errors.New("max consecutive faults cannot be negative"))
	}
	if c.FaultBackoff < 0 {
		err = multierr.Append(err, errors.New("fault backoff cannot be negative"))
	}
	if c.MaxLineLength <= 0 {
		err = multierr.Append(err, fmt.Errorf("max line length must be greater than 0, got %d", c.MaxLineLength))
	}
	if c.PlotWindow < 0 {
		err = multierr.Append(err, errors.New("plot window cannot be negative"))
	}

	return err
}
