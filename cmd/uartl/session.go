package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bigbag/uartl/internal/config"
	"github.com/bigbag/uartl/internal/detect"
	"github.com/bigbag/uartl/internal/metrics"
	"github.com/bigbag/uartl/internal/serial"
	"github.com/bigbag/uartl/internal/uartl"
)

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = portFlag
	}
	if flags.Changed("baud") {
		cfg.Baud = baudFlag
	}
	if flags.Changed("buffer") {
		cfg.BufferSize = bufferFlag
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeoutFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddrFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// startMetrics serves link metrics when an address is configured. The
// returned collector is nil otherwise.
func startMetrics(cfg *config.Config, logger *slog.Logger) (*metrics.Collector, func()) {
	if cfg.MetricsAddr == "" {
		return nil, func() {}
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(metrics.WithRegistry(reg))

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", cfg.MetricsAddr)

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// linkOptions configures a host-side link. The peer usually joined before
// the port was opened, so its ACK completes the handshake.
func linkOptions(logger *slog.Logger, collector *metrics.Collector) []uartl.Option {
	opts := []uartl.Option{uartl.WithLogger(logger), uartl.WithAckConfirm()}
	if collector != nil {
		opts = append(opts, uartl.WithObserver(collector))
	}
	return opts
}

// session is a connected link over a serial port.
type session struct {
	link   *uartl.Link
	port   *serial.Port
	cancel context.CancelFunc
	done   chan error
}

// openSession opens the configured port, or the first port with a peer,
// and completes the handshake.
func openSession(ctx context.Context, cfg *config.Config, opts ...uartl.Option) (*session, error) {
	portName := cfg.Port
	if portName == "" {
		fmt.Println("Detecting peer...")
		result, err := detect.DetectPeer(cfg.Baud, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("peer detection failed: %w", err)
		}
		portName = result.Port
		fmt.Printf("Found peer on %s\n", portName)
	}

	port, err := serial.Open(portName, cfg.Baud)
	if err != nil {
		return nil, err
	}
	port.Flush()

	link := uartl.New(port, make([]byte, cfg.BufferSize), opts...)
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		link:   link,
		port:   port,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { s.done <- link.Run(runCtx) }()

	fmt.Println("Connecting...")
	if err := detect.Establish(ctx, link, cfg.Timeout); err != nil {
		s.Close()
		return nil, err
	}
	fmt.Println("Connected!")

	return s, nil
}

// Close stops the receiver loop and closes the port.
func (s *session) Close() error {
	s.cancel()
	err := s.port.Close()
	<-s.done
	return err
}
