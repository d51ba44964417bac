// Command fountain sends or receives files over an LT fountain broadcast.
//
// A sender publishes a file and keeps repairing until its peers have it:
//
//	fountain -l 7001 -send ./blob.bin
//
// A receiver connects and writes the first decoded message to disk:
//
//	fountain -l 7002 -c 127.0.0.1:7001 -out ./blob.bin
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ppopth/lt-fountain/broadcast"
	"github.com/ppopth/lt-fountain/host"
)

var log = logging.Logger("fountain")

var (
	configFlag   = flag.String("config", "", "path to a yaml config file")
	listenFlag   = flag.Int("l", 0, "the listening port (overrides the config)")
	connectFlag  = flag.String("c", "", "comma-separated list of remote addresses to connect to")
	sendFlag     = flag.String("send", "", "file to publish")
	outFlag      = flag.String("out", "", "where to write received messages (default: only log them)")
	countFlag    = flag.Int("count", 1, "number of messages to receive before exiting")
	timeoutFlag  = flag.Duration("timeout", 5*time.Minute, "give up after this long")
	logLevelFlag = flag.String("log-level", "", "log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := Load(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	logging.SetAllLoggers(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeoutFlag)
	defer cancelTimeout()

	if err := run(ctx, cfg); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// applyFlags overrides config values with the flags set on the command line
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "l":
			cfg.ListenPort = *listenFlag
		case "c":
			cfg.Peers = splitPeers(*connectFlag)
		case "log-level":
			cfg.LogLevel = *logLevelFlag
		}
	})
}

func splitPeers(s string) []string {
	var peers []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func run(ctx context.Context, cfg *Config) error {
	opts, err := cfg.HostOptions()
	if err != nil {
		return err
	}
	h, err := host.NewHost(opts...)
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	defer h.Close()

	router, err := broadcast.NewRouter(h, broadcast.WithParams(cfg.Params()))
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	defer router.Close()

	log.Infof("host %s listening on %s", h.ID(), h.LocalAddr())

	for _, p := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			log.Warnf("failed to resolve address %s: %v", p, err)
			continue
		}
		if err := h.Connect(ctx, addr); err != nil {
			log.Warnf("failed to connect to %s: %v", addr, err)
		}
	}

	if *sendFlag != "" {
		return send(ctx, h, router, *sendFlag)
	}
	return receive(ctx, router, *countFlag, *outFlag)
}

// send publishes a file and waits until every connected peer has decoded it
func send(ctx context.Context, h *host.Host, router *broadcast.Router, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// Give listeners a moment to dial in before the first burst
	for len(h.Peers()) == 0 {
		log.Infof("waiting for peers")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	id, err := router.Publish(data)
	if err != nil {
		return err
	}
	log.Infof("published %s (%d bytes) as %s", path, len(data), id)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d peers completed before giving up: %w",
				router.CompletedPeers(id), len(h.Peers()), ctx.Err())
		case <-ticker.C:
		}
		if n := router.CompletedPeers(id); n > 0 && n >= len(h.Peers()) {
			c := router.Counters()
			log.Infof("all %d peers decoded the message; sent %d bytes, %d droplets held back",
				n, h.GetBytesSent(), c.PreventedDroplets)
			return nil
		}
	}
}

// receive waits for count messages and writes them to out
func receive(ctx context.Context, router *broadcast.Router, count int, out string) error {
	for i := 0; i < count; i++ {
		msg, err := router.Next(ctx)
		if err != nil {
			return err
		}
		log.Infof("received message %d: %d bytes", i+1, len(msg))

		if out == "" {
			continue
		}
		path := out
		if count > 1 {
			path = fmt.Sprintf("%s.%d", out, i)
		}
		if err := os.WriteFile(path, msg, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	// Stay around briefly so completion signals and repairs reach our peers
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}
