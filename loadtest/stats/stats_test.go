package stats

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := Summarize(ds)
	assert.Equal(t, 100, s.N)
	assert.Equal(t, 51*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 99*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50500*time.Microsecond, s.Avg)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestCollector_Report(t *testing.T) {
	c := NewCollector()
	c.Observe("connect", 2*time.Millisecond)
	c.Observe("connect", 4*time.Millisecond)
	c.Count("delivered")
	c.Count("delivered")
	c.AddError()

	assert.Equal(t, 2, c.Samples("connect"))
	assert.Equal(t, 2, c.Counter("delivered"))
	assert.Equal(t, 1, c.ErrorCount())

	var buf bytes.Buffer
	c.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Errors:    1")
	assert.Contains(t, out, "delivered: 2")
	assert.Contains(t, out, "--- connect latency ---")
	assert.Contains(t, out, "(n=2)")
}

func TestParseMetricLine(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{"socio_relay_connections 12", "socio_relay_connections", 12, true},
		{`socio_messages_total{outcome="sent"} 7`, "socio_messages_total", 7, true},
		{`socio_http_request_duration_seconds_sum{method="GET",route="/api/{id}"} 0.25 1700000000`, "socio_http_request_duration_seconds_sum", 0.25, true},
		{"socio_relay_connections", "", 0, false},
		{`broken{label="x" 1`, "", 0, false},
		{"socio_relay_connections NaNish", "", 0, false},
	}
	for _, tt := range tests {
		name, v, ok := parseMetricLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.name, name, tt.line)
		assert.Equal(t, tt.value, v, tt.line)
	}
}

func TestParseExposition_SumsLabels(t *testing.T) {
	text := strings.Join([]string{
		"# HELP socio_messages_total Chat messages by outcome.",
		"# TYPE socio_messages_total counter",
		`socio_messages_total{outcome="sent"} 5`,
		`socio_messages_total{outcome="rejected"} 2`,
		"",
		"socio_relay_connections 3",
	}, "\n")

	values, err := parseExposition(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, 7.0, values[metricMessages])
	assert.Equal(t, 3.0, values[metricRelayConnections])
}

func TestScraper_Report(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := conns.Add(5)
		fmt.Fprintf(w, "socio_relay_connections %d\n", n)
		fmt.Fprintf(w, "socio_http_request_duration_seconds_sum %f\n", float64(n)*0.01)
		fmt.Fprintf(w, "socio_http_request_duration_seconds_count %d\n", n)
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, 10*time.Millisecond)
	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.snapshots) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	var buf bytes.Buffer
	s.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Relay conns")
	assert.Contains(t, out, "HTTP request     avg: 0.0100s")
}

func TestScraper_ReportWithoutData(t *testing.T) {
	var buf bytes.Buffer
	NewScraper("http://127.0.0.1:0/metrics", time.Second).Report(&buf)
	assert.Contains(t, buf.String(), "no data collected")
}
