package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	// DefaultMission is used for NGOs whose upstream record has no
	// classification.
	DefaultMission = "No mission available"
	ngoCategory    = "environment"

	maxBodyBytes   = 8 << 20
	breakerTimeout = 5 * time.Minute
)

// TEDFetcher pulls talks from the RapidAPI TED endpoint.
type TEDFetcher struct {
	url     string
	apiKey  string
	apiHost string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]Talk]
}

func NewTEDFetcher(endpoint, apiKey, apiHost string, client *http.Client) *TEDFetcher {
	return &TEDFetcher{
		url:     endpoint,
		apiKey:  apiKey,
		apiHost: apiHost,
		client:  client,
		cb:      newBreaker[[]Talk]("ted-api", breakerTimeout),
	}
}

type tedResponse struct {
	Result struct {
		Results []struct {
			ID          any `json:"id"`
			Title       any `json:"title"`
			Description any `json:"description"`
			Duration    any `json:"duration"`
			Speaker     any `json:"speaker"`
			URL         any `json:"url"`
			Thumbnail   any `json:"thumbnail"`
		} `json:"results"`
	} `json:"result"`
}

// Fetch returns English talks recorded since 2017 that run at least five
// minutes.
func (f *TEDFetcher) Fetch(ctx context.Context) ([]Talk, error) {
	return execute(f.cb, func() ([]Talk, error) {
		u, err := url.Parse(f.url)
		if err != nil {
			return nil, fmt.Errorf("content: ted url: %w", err)
		}
		q := u.Query()
		q.Set("from_record_date", "2017-01-01")
		q.Set("min_duration", "300")
		q.Set("audio_lang", "en")
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("content: ted request: %w", err)
		}
		req.Header.Set("x-rapidapi-key", f.apiKey)
		req.Header.Set("x-rapidapi-host", f.apiHost)

		var body tedResponse
		if err := getJSON(f.client, req, &body); err != nil {
			return nil, fmt.Errorf("content: ted: %w", err)
		}

		talks := make([]Talk, 0, len(body.Result.Results))
		for _, r := range body.Result.Results {
			talks = append(talks, Talk{
				ID:          str(r.ID),
				Title:       str(r.Title),
				Description: str(r.Description),
				Duration:    str(r.Duration),
				Speaker:     str(r.Speaker),
				URL:         str(r.URL),
				Thumbnail:   str(r.Thumbnail),
			})
		}
		return talks, nil
	})
}

// NGOFetcher pulls environmental nonprofits from the ProPublica search API.
type NGOFetcher struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]NGO]
}

func NewNGOFetcher(endpoint string, client *http.Client) *NGOFetcher {
	return &NGOFetcher{
		url:    endpoint,
		client: client,
		cb:     newBreaker[[]NGO]("propublica-api", breakerTimeout),
	}
}

type propublicaResponse struct {
	Organizations []struct {
		EIN                any    `json:"ein"`
		Name               string `json:"name"`
		NTEEClassification string `json:"ntee_classification"`
		City               string `json:"city"`
		State              string `json:"state"`
		Website            string `json:"website"`
	} `json:"organizations"`
}

func (f *NGOFetcher) Fetch(ctx context.Context) ([]NGO, error) {
	return execute(f.cb, func() ([]NGO, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return nil, fmt.Errorf("content: propublica request: %w", err)
		}

		var body propublicaResponse
		if err := getJSON(f.client, req, &body); err != nil {
			return nil, fmt.Errorf("content: propublica: %w", err)
		}

		ngos := make([]NGO, 0, len(body.Organizations))
		for _, o := range body.Organizations {
			mission := o.NTEEClassification
			if mission == "" {
				mission = DefaultMission
			}
			ngos = append(ngos, NGO{
				ID:       str(o.EIN),
				Name:     o.Name,
				Mission:  mission,
				Location: location(o.City, o.State),
				Website:  o.Website,
				Category: ngoCategory,
			})
		}
		return ngos, nil
	})
}

func getJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// str renders an upstream scalar. Numbers come back from the decoder as
// float64; integral ones print without a fraction.
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func location(city, state string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{city, state} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
