package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/serial-sensor-plotter/internal/config"
	"sleepywoodpecker/serial-sensor-plotter/internal/logger"
	"sleepywoodpecker/serial-sensor-plotter/internal/processing"
	rserial "sleepywoodpecker/serial-sensor-plotter/internal/rSerial"
)

var cfg = config.Default()
var acquireDuration time.Duration

var rootCmd = &cobra.Command{
	Use:          "sensorplot",
	Short:        "Acquire numeric sensor readings from a serial device",
	SilenceUsage: true,
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Read samples until interrupted, then stop and optionally save them",
	Long: `Opens the given serial device (or the first one found), decodes one number per line,
and samples the collected readings on a fixed interval. On Ctrl-C or when --duration
elapses the device is released and, with --save-dir, every collected value is written
to sensor_data.txt in that directory.`,
	Args: cobra.NoArgs,
	RunE: runAcquire,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices",
	Args:  cobra.NoArgs,
	RunE:  runPorts,
}

func init() {
	flags := acquireCmd.Flags()
	flags.StringVarP(&cfg.DeviceID, "device", "d", cfg.DeviceID, "serial device (default: first available)")
	flags.IntVarP(&cfg.BaudRate, "baud", "b", cfg.BaudRate, "baud rate")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "bound on a single device read, and on stop latency")
	flags.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "how often collected samples are drained for display")
	flags.IntVar(&cfg.MaxConsecutiveFaults, "max-faults", cfg.MaxConsecutiveFaults, "give up after this many consecutive read faults (0 never gives up)")
	flags.DurationVar(&cfg.FaultBackoff, "fault-backoff", cfg.FaultBackoff, "pause after a read fault")
	flags.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "longest unterminated line kept in the read buffer")
	flags.IntVar(&cfg.PlotWindow, "plot-window", cfg.PlotWindow, "number of newest samples kept in the plotted series (0 keeps all)")
	flags.StringVarP(&cfg.SaveDir, "save-dir", "o", cfg.SaveDir, "directory to write sensor_data.txt into on exit")
	flags.StringVar(&cfg.TelegrafAddr, "telegraf", cfg.TelegrafAddr, "telegraf UDP address for influx line protocol, e.g. 127.0.0.1:4020")
	flags.DurationVar(&acquireDuration, "duration", 0, "stop after this long (0 runs until interrupted)")

	persistent := rootCmd.PersistentFlags()
	persistent.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path (empty logs to stderr only)")
	persistent.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	rootCmd.AddCommand(acquireCmd, portsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAcquire(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// first initialize the main logger
	logger, err := logger.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// context handler for graceful shutdown
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if acquireDuration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, acquireDuration)
		defer cancelTimeout()
	}

	transport := rserial.NewTransport(cfg.MaxLineLength, logger)
	session := processing.NewSession(processing.WorkerConfig{
		BaudRate:             cfg.BaudRate,
		ReadTimeout:          cfg.ReadTimeout,
		MaxConsecutiveFaults: cfg.MaxConsecutiveFaults,
		FaultBackoff:         cfg.FaultBackoff,
	}, transport, rserial.SystemEnumerator{}, logger)

	if err := session.Start(cfg.DeviceID); err != nil {
		return err
	}

	displays := []processing.DisplaySink{processing.NewLogDisplay(logger)}

	// optional UDP feed to telegraf
	if cfg.TelegrafAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelegrafAddr)
		if err != nil {
			session.Stop()
			return fmt.Errorf("error resolving telegraf address: %w", err)
		}
		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			session.Stop()
			return fmt.Errorf("error dialing telegraf: %w", err)
		}
		defer udpConn.Close()
		displays = append(displays, processing.NewInfluxUDPDisplay(udpConn, processing.SamplingChannelName, session.DeviceID()))
	}

	sampler := processing.NewSampler(cfg.SampleInterval, session, displays, cfg.PlotWindow, logger)

	samplerCtx, stopSampler := context.WithCancel(ctx)
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		sampler.Run(samplerCtx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("[main] shutting down")
	case <-session.Done():
		logger.Warn("[main] acquisition ended on its own")
	}

	stopSampler()
	<-samplerDone
	session.Stop()
	// pick up whatever arrived after the last tick
	sampler.SampleAndDisplay()

	stats := session.Stats()
	logger.Info("[main] acquisition summary",
		zap.Int("collected", len(session.CollectedSoFar())),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("faults", stats.Faults),
	)

	var saveErr error
	if cfg.SaveDir != "" {
		path, err := processing.SaveSeries(cfg.SaveDir, session.CollectedSoFar())
		if err != nil {
			logger.Error("[main] failed to save data", zap.Error(err))
			saveErr = err
		} else {
			logger.Info("[main] data saved", zap.String("path", path))
		}
	}

	return multierr.Combine(session.Err(), saveErr)
}

func runPorts(cmd *cobra.Command, _ []string) error {
	ports, err := rserial.SystemEnumerator{}.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return rserial.ErrNoDeviceFound
	}

	out := cmd.OutOrStdout()
	for _, p := range ports {
		if p.IsUSB {
			fmt.Fprintf(out, "%s\tUSB %s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Fprintln(out, p.Name)
		}
	}
	return nil
}
