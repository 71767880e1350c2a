package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/connection"
	"github.com/socio/backend/internal/content"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/geomap"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/moderation"
	"github.com/socio/backend/internal/passion"
	"github.com/socio/backend/internal/ratelimit"
)

type fixture struct {
	store   *docstore.Memory
	bus     *messaging.LocalBus
	content *content.Service
	router  http.Handler
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	store := docstore.NewMemory()
	bus := messaging.NewLocalBus()
	pub := messaging.NewPublisher(bus)
	filter := moderation.NewFilterWithTerms([]string{"scam"})
	provider := passion.NewStoreProvider(store, nil, 0)

	f := &fixture{
		store:   store,
		bus:     bus,
		content: content.NewService(store, nil),
	}
	f.router = NewRouter(Deps{
		Chat:        chat.NewService(store, filter, nil, pub, nil),
		Connections: connection.NewService(store, pub),
		Map:         geomap.NewService(store, filter),
		Content:     f.content,
		Matcher:     passion.NewMatcher(provider, nil, passion.MustDefaultProfiles()),
		Catalog:     provider,
		Relay: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}, NewMiddleware(DefaultMiddlewareConfig(), limiter))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
}

func TestSendAndListMessages(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/send-message",
		`{"text":"beach cleanup saturday?","user":{"uid":"u1","email":"sam@example.com"},"channel":"ocean"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode[struct {
		Success bool         `json:"success"`
		Message chat.Message `json:"message"`
	}](t, rec)
	assert.True(t, sent.Success)
	assert.Equal(t, "sam", sent.Message.User.Name)
	assert.NotEmpty(t, sent.Message.ID)

	rec = f.do(t, http.MethodPost, "/api/send-message",
		`{"text":"count me in","user":{"uid":"u2","name":"Kai"},"channel":"ocean","replyTo":"`+sent.Message.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/messages?channel=ocean", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]chat.Message](t, rec)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Replies, 1)
	assert.Equal(t, "count me in", msgs[0].Replies[0].Text)

	rec = f.do(t, http.MethodGet, "/api/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest, "Malformed request body"},
		{"missing text", `{"user":{"uid":"u1","name":"a"}}`, http.StatusBadRequest, "Text is required"},
		{"bad channel", `{"text":"hi","user":{"uid":"u1","name":"a"},"channel":"a b"}`, http.StatusBadRequest, "Channel may only contain"},
		{"blocked", `{"text":"total scam","user":{"uid":"u1","name":"a"}}`, http.StatusUnprocessableEntity, "Message blocked by moderation"},
		{"unknown reply", `{"text":"hi","user":{"uid":"u1","name":"a"},"replyTo":"nope"}`, http.StatusBadRequest, "Reply target not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodPost, "/api/send-message", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			got := decode[failure](t, rec)
			assert.False(t, got.Success)
			assert.True(t, strings.HasPrefix(got.Message, tt.msg), "message %q", got.Message)
		})
	}
}

func TestListMessages_StoreDown(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailWith = errors.New("connection refused")

	rec := f.do(t, http.MethodGet, "/api/messages", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, failure{Message: "Failed to fetch messages"}, decode[failure](t, rec))
}

func TestMapPins(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/map",
		`{"location":{"type":"Point","coordinates":[-122.4,37.8]},"interest":"tide pools","category":"nature","tags":["ocean","scam"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Success bool       `json:"success"`
		Data    geomap.Pin `json:"data"`
	}](t, rec)
	assert.True(t, created.Success)
	assert.Equal(t, []string{"ocean"}, created.Data.Tags)

	rec = f.do(t, http.MethodGet, "/api/map", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pins := decode[[]geomap.Pin](t, rec)
	require.Len(t, pins, 1)
	assert.Equal(t, "tide pools", pins[0].Interest)

	rec = f.do(t, http.MethodPost, "/api/map",
		`{"location":{"type":"Point","coordinates":[200,0]},"interest":"x","category":"y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnections(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.Insert(context.Background(), connection.UsersCollection, docstore.Document{"_id": "alice", "name": "Alice"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/connections", `{"userId":"alice","connectedUserId":"bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Success    bool                  `json:"success"`
		Connection connection.Connection `json:"connection"`
	}](t, rec)
	assert.Equal(t, connection.StatusPending, created.Connection.Status)

	rec = f.do(t, http.MethodPost, "/api/connections", `{"userId":"bob","connectedUserId":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Connection already exists", decode[failure](t, rec).Message)

	rec = f.do(t, http.MethodPut, "/api/connections/missing", `{"status":"accepted"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Connection not found", decode[failure](t, rec).Message)

	rec = f.do(t, http.MethodPut, "/api/connections/"+created.Connection.ID, `{"status":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/connections/"+created.Connection.ID, `{"status":"accepted"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/users/bob/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "accepted", list[0]["status"])
	assert.Equal(t, "Alice", list[0]["user"].(map[string]any)["name"])
	assert.Nil(t, list[0]["connectedUser"])
}

func TestContentAndActionHub(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.content.ReplaceTalks(ctx, []content.Talk{{ID: "t1", Title: "Oceans"}}))
	require.NoError(t, f.content.ReplaceNGOs(ctx, []content.NGO{{ID: "12-345", Name: "Reef Watch"}}))

	rec := f.do(t, http.MethodGet, "/api/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	talks := decode[[]content.Talk](t, rec)
	require.Len(t, talks, 1)
	assert.Equal(t, "Oceans", talks[0].Title)

	rec = f.do(t, http.MethodGet, "/api/action-hub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ngos := decode[[]content.NGO](t, rec)
	require.Len(t, ngos, 1)
	assert.Equal(t, "Reef Watch", ngos[0].Name)

	f.store.FailWith = errors.New("down")
	rec = f.do(t, http.MethodGet, "/api/action-hub", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Failed to fetch NGOs", decode[failure](t, rec).Message)
}

func TestPassionCatalog(t *testing.T) {
	f := newFixture(t, nil)
	defaults := passion.MustDefaultProfiles()

	rec := f.do(t, http.MethodGet, "/api/passion/questions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]passion.Question](t, rec))

	rec = f.do(t, http.MethodGet, "/api/passion/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]passion.Profile](t, rec), len(defaults))

	f.store.FailWith = errors.New("down")
	rec = f.do(t, http.MethodGet, "/api/passion/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]passion.Profile](t, rec), len(defaults))
}

func TestPassionMatch(t *testing.T) {
	defaults := passion.MustDefaultProfiles()

	t.Run("empty answers pick the first profile", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/passion/match", `{}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, defaults[0].ID, decode[passion.Profile](t, rec).ID)
		assert.Equal(t, "success", rec.Header().Get("X-Passion-Outcome"))
		assert.Equal(t, "default", rec.Header().Get("X-Passion-Corpus"))
	})

	t.Run("live corpus", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := passion.EnsureSeeded(context.Background(), f.store)
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/api/passion/match", `{"responses":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "live", rec.Header().Get("X-Passion-Corpus"))
	})

	t.Run("store down still answers", func(t *testing.T) {
		f := newFixture(t, nil)
		f.store.FailWith = errors.New("down")
		rec := f.do(t, http.MethodPost, "/api/passion/match", `{"responses":["ocean","ocean"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decode[passion.Profile](t, rec).ID)
		assert.Equal(t, "store_failure", rec.Header().Get("X-Passion-Outcome"))
	})

	t.Run("too many answers", func(t *testing.T) {
		f := newFixture(t, nil)
		answers := make([]string, 101)
		for i := range answers {
			answers[i] = "x"
		}
		body, err := json.Marshal(matchRequest{Responses: answers})
		require.NoError(t, err)
		rec := f.do(t, http.MethodPost, "/api/passion/match", string(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPassionMatch_NoCorpus(t *testing.T) {
	store := docstore.NewMemory()
	provider := passion.NewStoreProvider(store, nil, 0)
	router := NewRouter(Deps{
		Matcher: passion.NewMatcher(provider, nil, nil),
		Catalog: provider,
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/passion/match", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Failed to match passion"}`, rec.Body.String())
}

func TestSendMessage_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	f := newFixture(t, ratelimit.NewLimiter(client))

	body := `{"text":"hello","user":{"uid":"u1","name":"a"}}`
	for i := 0; i < ratelimit.RuleMessage.Limit; i++ {
		rec := f.do(t, http.MethodPost, "/api/send-message", body, UserHeader, "u1")
		require.Equal(t, http.StatusOK, rec.Code, "send %d", i)
	}
	rec := f.do(t, http.MethodPost, "/api/send-message", body, UserHeader, "u1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests", decode[failure](t, rec).Message)

	rec = f.do(t, http.MethodPost, "/api/send-message", body, UserHeader, "u2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRelayAndMetricsMounted(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusTeapot, f.do(t, http.MethodGet, "/ws", "").Code)

	f.do(t, http.MethodGet, "/api/health", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `socio_http_request_duration_seconds_count{method="GET",route="/api/health",status="2xx"}`)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode[failure](t, rec).Message)

	rec = f.do(t, http.MethodDelete, "/api/map", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodOptions, "/api/send-message", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodOptions, "/api/send-message", "",
		"Origin", "https://evil.example",
		"Access-Control-Request-Method", "POST")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
