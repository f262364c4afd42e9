// Command watch tails the live status of one or more transactions from a
// running server.
//
//	watch -server http://localhost:8080 tx_abc123def456 tx_0123456789ab
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/deploytrack/pkg/subscribe"
	"github.com/rs/zerolog"
)

func main() {
	var (
		server  string
		timeout time.Duration
		verbose bool
	)

	flag.StringVar(&server, "server", "http://localhost:8080", "Base URL of the server")
	flag.DurationVar(&timeout, "timeout", 0, "Exit after this duration (0 means wait for terminal statuses)")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: watch [flags] <transaction-id>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	mux := subscribe.NewMultiplexer(server, subscribe.Options{}, logger)
	defer mux.Close()

	done := make(chan string, len(ids)*4)
	for _, id := range ids {
		id := id
		subID := mux.Subscribe(id, nil)
		_, ok := mux.OnSubscriptionUpdate(subID, func(snap subscribe.Snapshot) {
			if snap.Status != "" {
				line := fmt.Sprintf("%s  %-10s  %3d%%", snap.TransactionID, snap.Status, snap.Progress)
				if snap.Error != "" {
					line += "  error=" + snap.Error
				}
				fmt.Println(line)
			}
			if isFinished(snap) {
				select {
				case done <- id:
				default:
				}
			}
		})
		if !ok {
			fmt.Fprintf(os.Stderr, "Failed to watch %s\n", id)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var timer <-chan time.Time
	if timeout > 0 {
		timer = time.After(timeout)
	}

	finished := make(map[string]bool, len(ids))
	for len(finished) < len(ids) {
		select {
		case id := <-done:
			finished[id] = true
		case <-quit:
			return
		case <-timer:
			status := mux.GlobalConnectionStatus()
			fmt.Fprintf(os.Stderr, "Timed out with %d/%d still pending (connected=%d reconnecting=%d failed=%d)\n",
				len(ids)-len(finished), len(ids), status.Connected, status.Reconnecting, status.Failed)
			os.Exit(1)
		}
	}
}

func isFinished(snap subscribe.Snapshot) bool {
	switch snap.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	// Reconnect budget exhausted with no terminal status.
	return snap.Error != "" && !snap.IsConnected && !snap.IsReconnecting
}
