package processing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const SamplingChannelName = "sensorvals"

// BatchSource is drained once per sampling tick.
type BatchSource interface {
	DrainNew() []Sample
}

// DisplaySink receives each non-empty drained batch in order.
type DisplaySink interface {
	Extend(batch []Sample) error
}

type sampler struct {
	samplingFrequency time.Duration
	source            BatchSource
	displays          []DisplaySink
	plotWindow        int
	logger            *zap.Logger

	plottedMutex sync.Mutex
	plotted      []Sample
}

// NewSampler builds the periodic consumer. A plotWindow of 0 keeps every plotted sample.
func NewSampler(samplingFrequency time.Duration, source BatchSource, displays []DisplaySink, plotWindow int, logger *zap.Logger) *sampler {
	return &sampler{
		samplingFrequency: samplingFrequency,
		source:            source,
		displays:          displays,
		plotWindow:        plotWindow,
		logger:            logger,
	}
}

// SampleAndDisplay drains once, extends the plotted series and hands the batch to every display.
// It never touches the device.
func (s *sampler) SampleAndDisplay() int {
	batch := s.source.DrainNew()
	if len(batch) == 0 {
		return 0
	}

	s.plottedMutex.Lock()
	s.plotted = append(s.plotted, batch...)
	if s.plotWindow > 0 && len(s.plotted) > s.plotWindow {
		s.plotted = append(s.plotted[:0], s.plotted[len(s.plotted)-s.plotWindow:]...)
	}
	plottedLen := len(s.plotted)
	s.plottedMutex.Unlock()

	for _, display := range s.displays {
		if err := display.Extend(batch); err != nil {
			s.logger.Warn("[sampler] error extending display", zap.Error(err))
		}
	}

	s.logger.Debug("[sampler] drained batch", zap.Int("batchSize", len(batch)), zap.Int("plotted", plottedLen))
	return len(batch)
}

func (s *sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		case <-ticker.C:
			s.SampleAndDisplay()
		}
	}
}

// Plotted returns a copy of the plotted series.
func (s *sampler) Plotted() []Sample {
	s.plottedMutex.Lock()
	defer s.plottedMutex.Unlock()

	plotted := make([]Sample, len(s.plotted))
	copy(plotted, s.plotted)
	return plotted
}

// LogDisplay reports each batch through the logger.
type LogDisplay struct {
	logger *zap.Logger
}

func NewLogDisplay(logger *zap.Logger) *LogDisplay {
	return &LogDisplay{logger: logger}
}

func (d *LogDisplay) Extend(batch []Sample) error {
	d.logger.Info("[display] new samples",
		zap.Int("count", len(batch)),
		zap.Float64("latest", float64(batch[len(batch)-1])),
	)
	return nil
}

// InfluxUDPDisplay feeds the latest sample of each batch to telegraf as influx line protocol.
type InfluxUDPDisplay struct {
	conn        io.Writer
	measurement string
	deviceID    string
}

func NewInfluxUDPDisplay(conn io.Writer, measurement string, deviceID string) *InfluxUDPDisplay {
	return &InfluxUDPDisplay{
		conn:        conn,
		measurement: measurement,
		deviceID:    deviceID,
	}
}

func (d *InfluxUDPDisplay) Extend(batch []Sample) error {
	latest := batch[len(batch)-1]
	influxString := fmt.Sprintf("%s,device=%s value=%g,batch=%di %d",
		d.measurement,
		escapeTagValue(d.deviceID),
		float64(latest),
		len(batch),
		time.Now().UnixNano(),
	)
	return d.sendToUDPConn(influxString)
}

// a datagram is written whole or not at all
func (d *InfluxUDPDisplay) sendToUDPConn(formattedData string) error {
	n, err := d.conn.Write([]byte(formattedData))
	if err != nil {
		return err
	}
	if n != len(formattedData) {
		return fmt.Errorf("short write to udp connection: %d of %d bytes", n, len(formattedData))
	}
	return nil
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

func escapeTagValue(v string) string {
	if v == "" {
		return "unknown"
	}
	return tagEscaper.Replace(v)
}
