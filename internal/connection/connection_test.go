package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/messaging"
)

type recorder struct {
	notices map[string][]Notice
}

func newService(t *testing.T) (*Service, *docstore.Memory, *recorder) {
	t.Helper()
	store := docstore.NewMemory()
	bus := messaging.NewLocalBus()
	rec := &recorder{notices: make(map[string][]Notice)}
	for _, uid := range []string{"alice", "bob"} {
		err := bus.Subscribe(messaging.UserSubject(uid), uid, func(_ string, data []byte) {
			env, err := messaging.DecodeEnvelope(data)
			if err != nil {
				t.Errorf("decode envelope: %v", err)
				return
			}
			if env.Event != messaging.EventConnection {
				t.Errorf("event = %q, want %q", env.Event, messaging.EventConnection)
			}
			var n Notice
			if err := json.Unmarshal(env.Data, &n); err != nil {
				t.Errorf("decode notice: %v", err)
				return
			}
			rec.notices[uid] = append(rec.notices[uid], n)
		})
		require.NoError(t, err)
	}

	svc := NewService(store, messaging.NewPublisher(bus))
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store, rec
}

func TestRequest(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	conn, err := svc.Request(ctx, Request{UserID: "alice", ConnectedUserID: "bob"})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, StatusPending, conn.Status)
	assert.Nil(t, conn.UpdatedAt)

	require.Len(t, rec.notices["bob"], 1)
	assert.Equal(t, NoticeRequest, rec.notices["bob"][0].Type)
	assert.Equal(t, conn.ID, rec.notices["bob"][0].Connection.ID)
	assert.Empty(t, rec.notices["alice"], "requester is not notified")
}

func TestRequest_Rejects(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Request(ctx, Request{UserID: "alice", ConnectedUserID: "bob"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"same direction", Request{UserID: "alice", ConnectedUserID: "bob"}, ErrConnectionExists},
		{"reverse direction", Request{UserID: "bob", ConnectedUserID: "alice"}, ErrConnectionExists},
		{"self", Request{UserID: "alice", ConnectedUserID: "alice"}, ErrSelfConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Request(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.Request(ctx, Request{UserID: "alice"})
	assert.Error(t, err, "missing target fails validation")

	_, err = svc.Request(ctx, Request{UserID: "alice", ConnectedUserID: "carol"})
	assert.NoError(t, err, "a different pair is allowed")
}

func TestRequest_ConcurrentPairStoresOne(t *testing.T) {
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	ctx := context.Background()

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		req := Request{UserID: "alice", ConnectedUserID: "bob"}
		if i%2 == 1 {
			req = Request{UserID: "bob", ConnectedUserID: "alice"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Request(ctx, req)
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrConnectionExists)
	}
	assert.Equal(t, 1, ok)

	docs, err := store.Find(ctx, Collection, docstore.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestPairID(t *testing.T) {
	assert.Equal(t, pairID("alice", "bob"), pairID("bob", "alice"))
	assert.NotEqual(t, pairID("alice", "bob"), pairID("alice", "carol"))
	assert.NotEqual(t, pairID("ab", "c"), pairID("a", "bc"))
}

func TestUpdateStatus(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()

	conn, err := svc.Request(ctx, Request{UserID: "alice", ConnectedUserID: "bob"})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, conn.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)
	require.NotNil(t, updated.UpdatedAt)
	assert.Equal(t, conn.Timestamp, updated.Timestamp)

	doc, err := store.Get(ctx, Collection, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "accepted", doc["status"])
	assert.NotEmpty(t, doc["updatedAt"])

	for _, uid := range []string{"alice", "bob"} {
		notices := rec.notices[uid]
		require.NotEmpty(t, notices, uid)
		last := notices[len(notices)-1]
		assert.Equal(t, NoticeUpdate, last.Type, uid)
		assert.Equal(t, StatusAccepted, last.Connection.Status, uid)
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "missing", StatusAccepted)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.UpdateStatus(ctx, "missing", Status("blocked"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	store.FailWith = errors.New("down")
	_, err = svc.UpdateStatus(ctx, "any", StatusRejected)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}

func TestForUser_Enriches(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, UsersCollection, docstore.Document{"_id": "alice", "name": "Alice"})
	require.NoError(t, err)

	_, err = svc.Request(ctx, Request{UserID: "alice", ConnectedUserID: "bob"})
	require.NoError(t, err)
	_, err = svc.Request(ctx, Request{UserID: "carol", ConnectedUserID: "alice"})
	require.NoError(t, err)
	_, err = svc.Request(ctx, Request{UserID: "carol", ConnectedUserID: "bob"})
	require.NoError(t, err)

	conns, err := svc.ForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conns, 2)

	byPeer := map[string]Enriched{}
	for _, c := range conns {
		byPeer[c.UserID+">"+c.ConnectedUserID] = c
	}
	out := byPeer["alice>bob"]
	assert.Equal(t, "Alice", out.User["name"])
	assert.Nil(t, out.ConnectedUser, "unknown users are null")

	in := byPeer["carol>alice"]
	assert.Nil(t, in.User)
	assert.Equal(t, "Alice", in.ConnectedUser["name"])

	none, err := svc.ForUser(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestForUser_StoreUnavailable(t *testing.T) {
	svc, store, _ := newService(t)
	store.FailWith = errors.New("down")

	_, err := svc.ForUser(context.Background(), "alice")
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}

func TestStatusValid(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPending: true, StatusAccepted: true, StatusRejected: true, "": false, "blocked": false,
	} {
		if got := s.Valid(); got != want {
			t.Errorf("Status(%q).Valid() = %v, want %v", s, got, want)
		}
	}
}
