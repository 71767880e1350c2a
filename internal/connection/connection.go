// Package connection manages user-to-user connection requests. A request is
// stored as pending and can later be accepted or rejected; both sides are
// notified on their user.<id> subject.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/validation"
)

const (
	Collection      = "connections"
	UsersCollection = "users"

	// enrichLimit bounds concurrent user lookups in ForUser.
	enrichLimit = 8
)

// pairNamespace seeds the name-based ids that make a user pair unique.
var pairNamespace = uuid.MustParse("3d0f5b7e-2c41-4e8a-9a57-61b0c8d2f4a9")

var (
	ErrConnectionExists = errors.New("connection: connection already exists")
	ErrSelfConnection   = errors.New("connection: cannot connect to yourself")
	ErrNotFound         = errors.New("connection: connection not found")
	ErrInvalidStatus    = errors.New("connection: invalid status")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Notification types carried in Notice.Type.
const (
	NoticeRequest = "request"
	NoticeUpdate  = "update"
)

type Connection struct {
	ID              string     `json:"_id"`
	UserID          string     `json:"userId"`
	ConnectedUserID string     `json:"connectedUserId"`
	Status          Status     `json:"status"`
	Timestamp       time.Time  `json:"timestamp"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// Enriched is a connection with both user documents attached. A user that
// does not exist is null.
type Enriched struct {
	Connection
	User          docstore.Document `json:"user"`
	ConnectedUser docstore.Document `json:"connectedUser"`
}

// Notice is published on user.<id> for every change.
type Notice struct {
	Type       string     `json:"type"`
	Connection Connection `json:"connection"`
}

// Request is the body of POST /api/connections.
type Request struct {
	UserID          string `json:"userId" validate:"required,max=128"`
	ConnectedUserID string `json:"connectedUserId" validate:"required,max=128"`
}

// StatusUpdate is the body of PUT /api/connections/{id}.
type StatusUpdate struct {
	Status Status `json:"status" validate:"required"`
}

type Service struct {
	store docstore.Store
	pub   *messaging.Publisher
	now   func() time.Time
	log   zerolog.Logger
}

// NewService returns a connection service. pub may be nil.
func NewService(store docstore.Store, pub *messaging.Publisher) *Service {
	return &Service{
		store: store,
		pub:   pub,
		now:   time.Now,
		log:   logging.Component("connection"),
	}
}

// Request stores a pending connection from req.UserID to req.ConnectedUserID
// and notifies the target. A connection between the two in either direction
// is rejected with ErrConnectionExists. The document id is derived from the
// unordered pair, so at most one connection per pair is ever stored.
func (s *Service) Request(ctx context.Context, req Request) (Connection, error) {
	if err := validation.Struct(req); err != nil {
		return Connection{}, err
	}
	if req.UserID == req.ConnectedUserID {
		return Connection{}, ErrSelfConnection
	}

	existing, err := s.store.Find(ctx, Collection, docstore.Query{Any: []docstore.Match{
		{"userId": req.UserID, "connectedUserId": req.ConnectedUserID},
		{"userId": req.ConnectedUserID, "connectedUserId": req.UserID},
	}})
	if err != nil {
		return Connection{}, fmt.Errorf("connection: request: %w", err)
	}
	if len(existing) > 0 {
		return Connection{}, ErrConnectionExists
	}

	conn := Connection{
		ID:              pairID(req.UserID, req.ConnectedUserID),
		UserID:          req.UserID,
		ConnectedUserID: req.ConnectedUserID,
		Status:          StatusPending,
		Timestamp:       s.now().UTC(),
	}
	doc, err := docstore.Encode(conn)
	if err != nil {
		return Connection{}, fmt.Errorf("connection: request: %w", err)
	}
	if _, err := s.store.Insert(ctx, Collection, doc); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			return Connection{}, ErrConnectionExists
		}
		return Connection{}, fmt.Errorf("connection: request: %w", err)
	}

	s.notify(conn.ConnectedUserID, Notice{Type: NoticeRequest, Connection: conn})
	return conn, nil
}

// pairID is the same for (a, b) and (b, a).
func pairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(pairNamespace, []byte(a+"\x00"+b)).String()
}

// UpdateStatus sets the connection's status and notifies both users.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Connection, error) {
	if !status.Valid() {
		return Connection{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Connection{}, ErrNotFound
	}
	if err != nil {
		return Connection{}, fmt.Errorf("connection: update: %w", err)
	}
	var conn Connection
	if err := docstore.Decode(doc, &conn); err != nil {
		return Connection{}, fmt.Errorf("connection: update: %w", err)
	}

	now := s.now().UTC()
	conn.Status = status
	conn.UpdatedAt = &now
	fields := docstore.Document{
		"status":    string(status),
		"updatedAt": now.Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, Collection, id, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("connection: update: %w", err)
	}

	notice := Notice{Type: NoticeUpdate, Connection: conn}
	s.notify(conn.UserID, notice)
	s.notify(conn.ConnectedUserID, notice)
	return conn, nil
}

// ForUser returns every connection the user is on either side of, with both
// user documents attached.
func (s *Service) ForUser(ctx context.Context, userID string) ([]Enriched, error) {
	docs, err := s.store.Find(ctx, Collection, docstore.Query{
		Any:    []docstore.Match{{"userId": userID}, {"connectedUserId": userID}},
		SortBy: "timestamp",
	})
	if err != nil {
		return nil, fmt.Errorf("connection: list: %w", err)
	}
	conns, err := docstore.DecodeAll[Connection](docs)
	if err != nil {
		return nil, fmt.Errorf("connection: list: %w", err)
	}

	out := make([]Enriched, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLimit)
	for i, c := range conns {
		out[i].Connection = c
		g.Go(func() error {
			u, err := s.user(gctx, c.UserID)
			if err != nil {
				return err
			}
			cu, err := s.user(gctx, c.ConnectedUserID)
			if err != nil {
				return err
			}
			out[i].User, out[i].ConnectedUser = u, cu
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("connection: enrich: %w", err)
	}
	return out, nil
}

func (s *Service) user(ctx context.Context, id string) (docstore.Document, error) {
	doc, err := s.store.Get(ctx, UsersCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (s *Service) notify(userID string, n Notice) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishEvent(messaging.UserSubject(userID), messaging.EventConnection, n); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Str("type", n.Type).Msg("connection notify failed")
	}
}
