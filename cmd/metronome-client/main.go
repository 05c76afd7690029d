package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/varesa/metronome2/internal/clientengine"
	"github.com/varesa/metronome2/internal/clocktower"
	"github.com/varesa/metronome2/internal/logging"
	"github.com/varesa/metronome2/internal/metrics"
)

// addrList collects repeated --clocktower flags.
type addrList []string

func (a *addrList) String() string     { return fmt.Sprint([]string(*a)) }
func (a *addrList) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	ppsMax := flag.Uint64("pps-max", 1, "Target transmit rate, probes per second")
	useSleep := flag.Bool("use-sleep", false, "Cooperatively yield between transmitter iterations")
	payloadSize := flag.Int("payload-size", 1, "Probe payload size in bytes")
	balance := flag.Float64("balance", 1, "Pong payload amplification factor (mul)")
	remote := flag.String("remote", "", "Hub address (host:port)")
	key := flag.String("key", "", "Shared key for coarse filtering")
	sessionID := flag.String("session-id", "", "Session identifier (sid)")
	statsInterval := flag.Float64("stats-interval", 1.0, "Seconds between telemetry publications")
	metricsAddr := flag.String("metrics-addr", "", "Optional host:port to serve Prometheus /metrics")
	quiet := flag.Bool("q", false, "Quiet mode - only log errors")
	verbose := flag.Bool("v", false, "Verbose logging")
	var clocktowers addrList
	flag.Var(&clocktowers, "clocktower", "Clocktower address (host:port), repeatable")
	flag.Parse()

	log := logging.New(*quiet, *verbose)

	if *remote == "" {
		fmt.Fprintf(os.Stderr, "Error: --remote is required\n")
		os.Exit(1)
	}

	remoteAddr, err := resolveUDPAddr(*remote)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var clocktowerAddrs []*net.UDPAddr
	for _, ct := range clocktowers {
		addr, err := resolveUDPAddr(ct)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		clocktowerAddrs = append(clocktowerAddrs, addr)
	}

	publisher := clocktower.New(log, clocktowerAddrs)
	defer publisher.Close()

	cfg := clientengine.Config{
		Sid:           *sessionID,
		Key:           *key,
		PPSMax:        *ppsMax,
		UseSleep:      *useSleep,
		PayloadSize:   *payloadSize,
		Balance:       *balance,
		StatsInterval: time.Duration(*statsInterval * float64(time.Second)),
	}

	engine, err := clientengine.New(cfg, log, remoteAddr, publisher)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create client engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		prometheus.MustRegister(metrics.NewClientCollector(*sessionID, engine.Tracker()))
		go metrics.Serve(ctx, log, *metricsAddr)
	}

	log.Info("starting metronome client", "remote", remoteAddr, "sid", *sessionID)
	engine.Run(ctx)
}

func resolveUDPAddr(hostport string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %s: %w", portStr, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %s", host)
	}
	return &net.UDPAddr{IP: ips[0], Port: int(port)}, nil
}
