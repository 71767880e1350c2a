package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Server metrics the report follows. Labelled series are summed per name.
const (
	metricRelayConnections = "socio_relay_connections"
	metricMessages         = "socio_messages_total"
	metricPassionMatches   = "socio_passion_matches_total"
	metricHTTPSum          = "socio_http_request_duration_seconds_sum"
	metricHTTPCount        = "socio_http_request_duration_seconds_count"
	metricStoreSum         = "socio_store_duration_seconds_sum"
	metricStoreCount       = "socio_store_duration_seconds_count"
)

type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's /metrics endpoint during a run.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx
// ends or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// scrapeOnce skips failed scrapes; the server may not be up yet.
func (s *Scraper) scrapeOnce(ctx context.Context) {
	values, err := s.fetch(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot{at: time.Now(), values: values})
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats: metrics endpoint returned %d", resp.StatusCode)
	}
	return parseExposition(resp.Body)
}

// parseExposition sums every sample of the Prometheus text format by metric
// name, dropping labels.
func parseExposition(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if name, v, ok := parseMetricLine(line); ok {
			values[name] += v
		}
	}
	return values, scanner.Err()
}

// parseMetricLine splits `name{labels} value [timestamp]` into the bare name
// and value.
func parseMetricLine(line string) (string, float64, bool) {
	name, rest := line, ""
	if i := strings.IndexByte(line, '{'); i != -1 {
		j := strings.LastIndexByte(line, '}')
		if j < i {
			return "", 0, false
		}
		name, rest = line[:i], line[j+1:]
	} else {
		var found bool
		name, rest, found = strings.Cut(line, " ")
		if !found {
			return "", 0, false
		}
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report writes the initial, final, delta and peak of each followed metric
// plus histogram averages over the run.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snapshots...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	rows := []struct{ label, metric string }{
		{"Relay conns", metricRelayConnections},
		{"Messages", metricMessages},
		{"Passion matches", metricPassionMatches},
	}
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	for _, row := range rows {
		initial, final := first.values[row.metric], last.values[row.metric]
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			row.label, initial, final, final-initial, peak(snaps, row.metric))
	}

	fmt.Fprintln(w)
	printAverage(w, "HTTP request", first, last, metricHTTPSum, metricHTTPCount)
	printAverage(w, "Store op", first, last, metricStoreSum, metricStoreCount)
}

func printAverage(w io.Writer, label string, first, last snapshot, sumName, countName string) {
	sum := last.values[sumName] - first.values[sumName]
	count := last.values[countName] - first.values[countName]
	if count <= 0 {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", label)
		return
	}
	fmt.Fprintf(w, "  %-16s avg: %.4fs  (%.0f observations)\n", label, sum/count, count)
}

func peak(snaps []snapshot, metric string) float64 {
	p := math.Inf(-1)
	for _, s := range snaps {
		if v := s.values[metric]; v > p {
			p = v
		}
	}
	return p
}
