package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/uartl/internal/config"
	"github.com/bigbag/uartl/internal/detect"
	"github.com/bigbag/uartl/internal/loopback"
	"github.com/bigbag/uartl/internal/protocol"
	"github.com/bigbag/uartl/internal/serial"
	"github.com/bigbag/uartl/internal/transfer"
	"github.com/bigbag/uartl/internal/uartl"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag      string
	portFlag        string
	baudFlag        int
	bufferFlag      int
	timeoutFlag     time.Duration
	logLevelFlag    string
	metricsAddrFlag string

	chunkFlag  int
	gapFlag    time.Duration
	outputFlag string
	sizeFlag   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uartl",
		Short: "Exchange frames with a peer over a UART link",
		Long: `uartl talks the UART link protocol: a JOIN/ACK handshake followed by
escape-delimited data frames.

Settings are read from the config file and can be overridden with flags.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", config.DefaultPath(), "Config file")
	pf.StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	pf.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	pf.IntVar(&bufferFlag, "buffer", protocol.DefaultBufferSize, "Largest frame that can be received")
	pf.DurationVar(&timeoutFlag, "timeout", 2*time.Second, "Handshake and send timeout")
	pf.StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve prometheus metrics on this address")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	// Scan command
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Find ports with a connecting peer",
		Long: `Run the handshake on every port, or only on --port, and report the
ports whose peer answered. Peers are released with LEAVE afterwards.`,
		RunE: runScan,
	}

	// Listen command
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and write received frames to stdout",
		RunE:  runListen,
	}
	listenCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write frames to this file instead of stdout")

	// Send command
	sendCmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Connect and send a file as frames",
		Long: `Send a file as a sequence of data frames of at most --chunk bytes.

Payload bytes are not escaped, so the file must not contain 0x8F.`,
		Args: cobra.ExactArgs(1),
		RunE: runSend,
	}
	sendCmd.Flags().IntVar(&chunkFlag, "chunk", 0, "Frame payload size (default from config)")
	sendCmd.Flags().DurationVar(&gapFlag, "gap", 5*time.Millisecond, "Pause between frames")

	// Loopback command
	loopbackCmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run two links against each other in memory",
		Long: `Connect two links over an in-memory channel, send generated data from
one to the other and verify it arrives intact.`,
		RunE: runLoopback,
	}
	loopbackCmd.Flags().IntVar(&sizeFlag, "size", 4096, "Bytes to transfer")
	loopbackCmd.Flags().IntVar(&chunkFlag, "chunk", 0, "Frame payload size (default from config)")
	loopbackCmd.Flags().DurationVar(&gapFlag, "gap", time.Millisecond, "Pause between frames")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("uartl %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, scanCmd, listenCmd, sendCmd, loopbackCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPortDetails()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  %s  [%s:%s] %s %s\n", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
		} else {
			fmt.Printf("  %s\n", p.Name)
		}
	}

	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	if cfg.Port != "" {
		result, err := detect.DetectOnPort(cfg.Port, cfg.Baud, cfg.Timeout)
		if err != nil {
			return fmt.Errorf("no peer on %s: %w", cfg.Port, err)
		}
		printPeer(result)
		return nil
	}

	fmt.Println("Scanning for peers...")
	peers, err := detect.ListPeers(cfg.Baud, cfg.Timeout)
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		fmt.Println("No peers found")
		return nil
	}

	fmt.Printf("Found %d peer(s):\n", len(peers))
	for i := range peers {
		printPeer(&peers[i])
	}

	return nil
}

func printPeer(r *detect.Result) {
	fmt.Printf("  %s  (handshake %s)\n", r.Port, r.Elapsed.Round(time.Millisecond))
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx := cmd.Context()
	collector, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics()

	var out io.Writer = os.Stdout
	if outputFlag != "" {
		f, err := os.Create(outputFlag)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	s, err := openSession(ctx, cfg, linkOptions(logger, collector)...)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("listening", "port", s.port.PortName(), "buffer", cfg.BufferSize)

	sink := transfer.NewSink(s.link, out, cfg.BufferSize)
	err = sink.Run(ctx)
	logger.Info("listen stopped", "frames", sink.Frames(), "bytes", sink.Bytes())
	return err
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := protocol.ValidatePayload(data); err != nil {
		return fmt.Errorf("%s cannot be sent: %w", args[0], err)
	}

	chunk := cfg.ChunkSize
	if chunkFlag > 0 {
		chunk = chunkFlag
	}

	fmt.Printf("File: %s (%d bytes, %d frames)\n", args[0], len(data), transfer.CalculateChunks(len(data), chunk))

	ctx := cmd.Context()
	collector, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics()

	s, err := openSession(ctx, cfg, linkOptions(logger, collector)...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Port: %s @ %d baud\n", s.port.PortName(), s.port.BaudRate())

	sender := transfer.NewSender(s.link, chunk, cfg.Timeout)
	sender.SetGap(gapFlag)

	if err := sendWithProgress(ctx, sender, data, chunk); err != nil {
		return err
	}

	fmt.Println("\nDone!")
	return nil
}

func runLoopback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	chunk := cfg.ChunkSize
	if chunkFlag > 0 {
		chunk = chunkFlag
	}
	if chunk > cfg.BufferSize {
		return fmt.Errorf("chunk %d exceeds buffer %d", chunk, cfg.BufferSize)
	}

	ctx := cmd.Context()
	collector, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics()

	ea, eb := loopback.NewPair(2 * cfg.BufferSize)
	opts := linkOptions(logger, collector)
	a := uartl.New(ea, make([]byte, cfg.BufferSize), opts...)
	b := uartl.New(eb, make([]byte, cfg.BufferSize), opts...)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 2)
	go func() { done <- a.Run(runCtx) }()
	go func() { done <- b.Run(runCtx) }()
	defer func() {
		cancel()
		ea.Close()
		<-done
		<-done
	}()

	a.Connect(cfg.Timeout)
	if err := detect.Establish(ctx, b, cfg.Timeout); err != nil {
		return err
	}
	if err := detect.Establish(ctx, a, cfg.Timeout); err != nil {
		return err
	}
	fmt.Println("Connected!")

	data := make([]byte, sizeFlag)
	for i := range data {
		data[i] = byte(i % int(protocol.Esc))
	}

	var out bytes.Buffer
	sink := transfer.NewSink(b, &out, cfg.BufferSize)
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- sink.CopyN(runCtx, int64(len(data))) }()

	sender := transfer.NewSender(a, chunk, cfg.Timeout)
	sender.SetGap(gapFlag)

	start := time.Now()
	if err := sendWithProgress(ctx, sender, data, chunk); err != nil {
		return err
	}

	select {
	case err := <-sinkDone:
		if err != nil {
			return err
		}
	case <-time.After(cfg.Timeout):
		return fmt.Errorf("received %d of %d bytes within %s", sink.Bytes(), len(data), cfg.Timeout)
	}
	elapsed := time.Since(start)

	if !bytes.Equal(data, out.Bytes()) {
		return fmt.Errorf("data mismatch after %d frames", sink.Frames())
	}

	fmt.Printf("\nVerified %d bytes in %d frames (%s)\n", len(data), sink.Frames(), elapsed.Round(time.Millisecond))
	return nil
}

func sendWithProgress(ctx context.Context, sender *transfer.Sender, data []byte, chunk int) error {
	bar := progressbar.NewOptions(transfer.CalculateChunks(len(data), chunk),
		progressbar.OptionSetDescription("Sending"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	sender.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	if err := sender.Send(ctx, data); err != nil {
		return err
	}
	return bar.Finish()
}
