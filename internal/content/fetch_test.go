package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTEDFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "ted.example", r.Header.Get("x-rapidapi-host"))
		q := r.URL.Query()
		assert.Equal(t, "2017-01-01", q.Get("from_record_date"))
		assert.Equal(t, "300", q.Get("min_duration"))
		assert.Equal(t, "en", q.Get("audio_lang"))

		_, _ = w.Write([]byte(`{"result":{"results":[
			{"id":42,"title":"Forests","description":"Why trees matter","duration":"00:12:01",
			 "speaker":"A. Botanist","url":"https://ted.example/42","thumbnail":"https://img/42.jpg","extra":true},
			{"id":"x7","title":"Reefs"}
		]}}`))
	}))
	defer srv.Close()

	f := NewTEDFetcher(srv.URL+"/talks", "secret", "ted.example", srv.Client())
	talks, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, talks, 2)
	assert.Equal(t, Talk{
		ID: "42", Title: "Forests", Description: "Why trees matter", Duration: "00:12:01",
		Speaker: "A. Botanist", URL: "https://ted.example/42", Thumbnail: "https://img/42.jpg",
	}, talks[0])
	assert.Equal(t, "x7", talks[1].ID)
	assert.Equal(t, "", talks[1].Speaker)
}

func TestNGOFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "environment", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"organizations":[
			{"ein":123456789,"name":"River Trust","ntee_classification":"Water Resources","city":"Portland","state":"OR","website":"https://river.example"},
			{"ein":987654321,"name":"Quiet Fund","city":"","state":"TX"}
		]}`))
	}))
	defer srv.Close()

	f := NewNGOFetcher(srv.URL+"/search.json?q=environment", srv.Client())
	ngos, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, ngos, 2)
	assert.Equal(t, NGO{
		ID: "123456789", Name: "River Trust", Mission: "Water Resources",
		Location: "Portland, OR", Website: "https://river.example", Category: "environment",
	}, ngos[0])
	assert.Equal(t, DefaultMission, ngos[1].Mission)
	assert.Equal(t, "TX", ngos[1].Location)
	assert.Equal(t, "", ngos[1].Website)
}

func TestFetcher_ErrorsAndBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewNGOFetcher(srv.URL, srv.Client())
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 429")
	}

	_, err := f.Fetch(context.Background())
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "breaker should be open, got %v", err)
	assert.Equal(t, 3, calls, "open breaker must not reach upstream")
}

func TestFetcher_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":`))
	}))
	defer srv.Close()

	_, err := NewTEDFetcher(srv.URL, "", "", srv.Client()).Fetch(context.Background())
	assert.Error(t, err)
}

func TestStr(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{float64(123456789), "123456789"},
		{1.5, "1.5"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := str(tt.in); got != tt.want {
			t.Errorf("str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
