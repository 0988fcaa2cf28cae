// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command xlfacilityd is a demo daemon that wires a Facility up to
// whichever sinks a YAML config file names, then logs a stream of
// synthetic records until terminated — reference plumbing for the
// library, not something meant to guard production traffic on its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nishisan-dev/xlfacility"
	"github.com/nishisan-dev/xlfacility/history"
	"github.com/nishisan-dev/xlfacility/internal/config"
	"github.com/nishisan-dev/xlfacility/internal/logging"
	"github.com/nishisan-dev/xlfacility/sinks/httplog"
	"github.com/nishisan-dev/xlfacility/sinks/tcpclient"
	"github.com/nishisan-dev/xlfacility/sinks/tcpserver"
	"github.com/nishisan-dev/xlfacility/sinks/telnet"
)

func main() {
	configPath := flag.String("config", "/etc/xlfacility/daemon.yaml", "path to daemon config file")
	logLevel := flag.String("log-level", "info", "ambient diagnostics log level")
	logFormat := flag.String("log-format", "json", "ambient diagnostics log format (json|text)")
	flag.Parse()

	logger, closer := logging.NewLogger(*logLevel, *logFormat, "")
	defer closer.Close()

	cfg, err := config.LoadDaemonConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	facility := xlfacility.Default()
	facility.SetMinLogLevel(cfg.ParsedMinLogLevel)

	closers, err := registerSinks(facility, cfg, logger)
	if err != nil {
		logger.Error("sink registration failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		facility.RemoveAllSinks()
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("xlfacilityd started", "config", *configPath)
	runDemoFeed(ctx, facility)
	logger.Info("xlfacilityd stopped")
}

// registerSinks opens every sink named in cfg, in a fixed order, and
// returns the history stores that need closing on shutdown. A sink that
// fails to open is a fatal config error here, matching Facility.AddSink's
// own "false means don't proceed" contract.
func registerSinks(f *xlfacility.Facility, cfg *config.DaemonConfig, logger *slog.Logger) ([]*history.JSONLStore, error) {
	var stores []*history.JSONLStore

	openHistory := func(path string, maxLines int) (history.Store, error) {
		if path == "" {
			return nil, nil
		}
		store, err := history.NewJSONLStore(path, maxLines)
		if err != nil {
			return nil, fmt.Errorf("opening history store %q: %w", path, err)
		}
		stores = append(stores, store)
		return store, nil
	}

	if cfg.File != nil {
		sink := xlfacility.NewFileSink(cfg.File.Path, cfg.File.Truncate)
		applyLevel(sink, cfg.File.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("file sink failed to open at %q", cfg.File.Path)
		}
	}

	if cfg.Stderr != nil {
		sink := xlfacility.NewStdStreamSink()
		applyLevel(sink, cfg.Stderr.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("stderr sink failed to open")
		}
	}

	if cfg.TCPServer != nil {
		hist, err := openHistory(cfg.TCPServer.History, cfg.TCPServer.HistoryMax)
		if err != nil {
			return stores, err
		}
		sink := tcpserver.New(cfg.TCPServer.Listen, logger, parseSendTimeout(cfg.TCPServer.SendTimeout), hist)
		sink.SetSendRateLimit(cfg.TCPServer.SendRateLimitBps)
		applyLevel(sink, cfg.TCPServer.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("tcp server sink failed to open on %q", cfg.TCPServer.Listen)
		}
	}

	if cfg.TCPClient != nil {
		hist, err := openHistory(cfg.TCPClient.History, cfg.TCPClient.HistoryMax)
		if err != nil {
			return stores, err
		}
		timeout := tcpclient.SendTimeout(parseSendTimeout(cfg.TCPClient.SendTimeout))
		sink := tcpclient.New(cfg.TCPClient.Connect, logger, timeout, hist)
		sink.SetSendRateLimit(cfg.TCPClient.SendRateLimitBps)
		applyLevel(sink, cfg.TCPClient.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("tcp client sink failed to open for %q", cfg.TCPClient.Connect)
		}
	}

	if cfg.Telnet != nil {
		hist, err := openHistory(cfg.Telnet.History, cfg.Telnet.HistoryMax)
		if err != nil {
			return stores, err
		}
		banner := cfg.Telnet.Banner
		if banner == "" {
			banner = "xlfacility telnet sink\r\n"
		}
		sink := telnet.New(cfg.Telnet.Listen, banner, demoCommandHandler, cfg.Telnet.MaxHistorySize, cfg.Telnet.Colorize, logger, hist)
		sink.SetSendRateLimit(cfg.Telnet.SendRateLimitBps)
		applyLevel(sink, cfg.Telnet.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("telnet sink failed to open on %q", cfg.Telnet.Listen)
		}
	}

	if cfg.HTTP != nil {
		hist, err := openHistory(cfg.HTTP.History, cfg.HTTP.HistoryMax)
		if err != nil {
			return stores, err
		}
		sink := httplog.New(cfg.HTTP.Listen, logger, hist)
		applyLevel(sink, cfg.HTTP.Level)
		if !f.AddSink(sink) {
			return stores, fmt.Errorf("http sink failed to open on %q", cfg.HTTP.Listen)
		}
	}

	return stores, nil
}

// levelSetter is implemented by every concrete sink in this module via
// embedded *xlfacility.BaseSink.
type levelSetter interface {
	SetLevels(min, max xlfacility.Level)
}

func applyLevel(s levelSetter, level string) {
	level = strings.TrimSpace(level)
	if level == "" {
		return
	}
	parsed, ok := xlfacility.ParseLevel(level)
	if !ok {
		return
	}
	s.SetLevels(parsed, xlfacility.LevelAbort)
}

func parseSendTimeout(raw string) tcpserver.SendTimeout {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "block":
		return tcpserver.BlockForever
	case "fire_and_forget", "fire-and-forget":
		return tcpserver.FireAndForget
	default:
		if d, err := time.ParseDuration(raw); err == nil {
			return tcpserver.SendTimeout(d)
		}
		return tcpserver.BlockForever
	}
}

// demoCommandHandler answers the small command set a Telnet peer can use
// to inspect the running facility: "help" and "echo <text>".
func demoCommandHandler(c *telnet.Conn, cmd string, args []string) string {
	switch cmd {
	case "help":
		return "commands: help, echo <text>\n"
	case "echo":
		return strings.Join(args, " ") + "\n"
	default:
		return "unknown command: " + cmd + "\n"
	}
}

// runDemoFeed logs one synthetic record every second at an ascending
// level, cycling back to Debug, until ctx is canceled — just enough
// traffic to exercise every wired sink without requiring a real producer.
func runDemoFeed(ctx context.Context, f *xlfacility.Facility) {
	levels := []xlfacility.Level{
		xlfacility.LevelDebug,
		xlfacility.LevelVerbose,
		xlfacility.LevelInfo,
		xlfacility.LevelWarning,
		xlfacility.LevelError,
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := levels[i%len(levels)]
			f.LogMessage("demo", level, fmt.Sprintf("tick %d", i))
			i++
		}
	}
}
