package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/socio/backend/internal/api"
	"github.com/socio/backend/internal/passion"
	"github.com/socio/backend/loadtest/stats"
)

// runMatch fetches the quiz once, then has workers submit random answer
// sheets to the match endpoint. Outcomes are counted from the
// X-Passion-Outcome header.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	apiURL := fs.String("api", "http://localhost:8080", "REST API base URL")
	workers := fs.Int("workers", 20, "Concurrent clients")
	requests := fs.Int("requests", 1000, "Total match requests")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(*apiURL, "/")
	hc := &http.Client{Timeout: 10 * time.Second}

	questions, err := fetchQuestions(ctx, hc, base+"/api/passion/questions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch questions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Match test: %d requests from %d workers over %d questions\n", *requests, *workers, len(questions))

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := range *workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uid := fmt.Sprintf("loadtest-%d", w)
			for range jobs {
				matchOnce(ctx, hc, base+"/api/passion/match", uid, randomAnswers(questions), collector)
			}
		}()
	}

feed:
	for i := range *requests {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	scraper.Stop()
	collector.Report(os.Stdout)
}

func fetchQuestions(ctx context.Context, hc *http.Client, url string) ([]passion.Question, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var qs []passion.Question
	if err := json.NewDecoder(resp.Body).Decode(&qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// randomAnswers picks one option per question and returns its tags.
func randomAnswers(questions []passion.Question) []string {
	var tags []string
	for _, q := range questions {
		if len(q.Options) == 0 {
			continue
		}
		tags = append(tags, q.Options[rand.IntN(len(q.Options))].Tags...)
	}
	return tags
}

func matchOnce(ctx context.Context, hc *http.Client, url, uid string, responses []string, collector *stats.Collector) {
	start := time.Now()
	status, header, err := postJSON(ctx, hc, url, uid, map[string][]string{"responses": responses})
	switch {
	case err != nil:
		if ctx.Err() == nil {
			collector.AddError()
		}
	case status == http.StatusOK:
		collector.Observe("match", time.Since(start))
		collector.Count("outcome_" + header.Get("X-Passion-Outcome"))
	case status == http.StatusTooManyRequests:
		collector.Count("rate_limited")
	default:
		collector.AddError()
	}
}

// postJSON sends v as uid and drains the response.
func postJSON(ctx context.Context, hc *http.Client, url, uid string, v any) (int, http.Header, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.UserHeader, uid)

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header, nil
}
