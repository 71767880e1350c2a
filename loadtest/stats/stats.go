// Package stats aggregates load test measurements from many goroutines and
// prints a percentile summary at the end of a run.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	counts    map[string]int
	errors    int
	startTime time.Time
	scraper   *Scraper
}

func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		counts:    make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper makes Report include the server-side metrics s collected.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// Observe records one latency sample under name ("connect", "delivery",
// "match").
func (c *Collector) Observe(name string, d time.Duration) {
	c.mu.Lock()
	c.latencies[name] = append(c.latencies[name], d)
	c.mu.Unlock()
}

// Count increments the named counter.
func (c *Collector) Count(name string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Samples returns how many latencies were recorded under name.
func (c *Collector) Samples(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latencies[name])
}

func (c *Collector) Counter(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Summary is the distribution of one latency series.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize computes the distribution of durations. The slice is sorted in
// place.
func Summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[rank(n, 0.95)],
		P99: durations[rank(n, 0.99)],
		Max: durations[n-1],
	}
}

func rank(n int, q float64) int {
	return int(math.Ceil(float64(n)*q)) - 1
}

// Report writes the run summary to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:  %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Errors:    %d\n", c.errors)

	for _, name := range sortedKeys(c.counts) {
		fmt.Fprintf(w, "%-10s %d\n", name+":", c.counts[name])
	}

	for _, name := range sortedKeys(c.latencies) {
		s := Summarize(c.latencies[name])
		fmt.Fprintf(w, "\n--- %s latency ---\n", name)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			s.Avg.Round(time.Microsecond),
			s.P50.Round(time.Microsecond),
			s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond),
			s.Max.Round(time.Microsecond),
			s.N,
		)
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
