// Command loadtest drives a running socio backend.
//
//   - saturate: hold N idle relay connections
//   - chat:     post messages over HTTP and time their delivery to relay subscribers
//   - match:    hammer the passion match endpoint with random answer sheets
//
// Usage:
//
//	loadtest <command> [options]
//
// Per-client rate limits apply when the server runs with Redis; run against
// a server without it (or with high limits) to measure raw throughput.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/socio/backend/loadtest/client"
	"github.com/socio/backend/loadtest/stats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "match":
		runMatch(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Open N idle relay connections and hold them")
	fmt.Println("  chat        Send chat messages and measure relay delivery latency")
	fmt.Println("  match       Concurrent passion match requests")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// ramp opens n relay connections to url over the ramp duration with at most
// concurrency dials in flight. Connect latencies go to collector under
// "connect". It returns the clients that completed the handshake.
func ramp(ctx context.Context, url string, n int, rampUp time.Duration, concurrency int, collector *stats.Collector) []*client.Client {
	interval := rampUp / time.Duration(max(n, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, n)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, max(concurrency, 1))
	)

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [ramp] connected: %d/%d  errors: %d\n",
					collector.Samples("connect"), n, collector.ErrorCount())
			case <-progressDone:
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitConnected(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.Observe("connect", c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}

	wg.Wait()
	close(progressDone)
	return clients
}

func countAlive(clients []*client.Client) int {
	alive := 0
	for _, c := range clients {
		if c.Alive() {
			alive++
		}
	}
	return alive
}

func closeAll(clients []*client.Client) {
	for _, c := range clients {
		c.Close()
	}
}
