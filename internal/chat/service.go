package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/socio/backend/internal/ban"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/metrics"
	"github.com/socio/backend/internal/moderation"
	"github.com/socio/backend/internal/validation"
)

var (
	ErrUserMuted      = errors.New("chat: user is muted")
	ErrMessageBlocked = errors.New("chat: message blocked by moderation")
	ErrReplyNotFound  = errors.New("chat: reply target not found")
)

// Mutes is the part of ban.Store the chat service uses.
type Mutes interface {
	Check(ctx context.Context, userID string) (ban.Status, error)
	RecordOffense(ctx context.Context, userID, reason string) (time.Duration, error)
}

// Service stores, threads and fans out chat messages.
type Service struct {
	store  docstore.Store
	filter *moderation.Filter
	mutes  Mutes
	pub    *messaging.Publisher
	recent *RecentBuffer
	now    func() time.Time
	log    zerolog.Logger
}

// NewService wires the chat pipeline. mutes and pub may be nil, in which case
// mute checks and event fan-out are skipped.
func NewService(store docstore.Store, filter *moderation.Filter, mutes Mutes, pub *messaging.Publisher, recent *RecentBuffer) *Service {
	if filter == nil {
		filter = moderation.NewFilter()
	}
	if recent == nil {
		recent = NewRecentBuffer(DefaultRecentMessages)
	}
	return &Service{
		store:  store,
		filter: filter,
		mutes:  mutes,
		pub:    pub,
		recent: recent,
		now:    time.Now,
		log:    logging.Component("chat"),
	}
}

// List returns the channel's top-level messages oldest first, each carrying
// its replies.
func (s *Service) List(ctx context.Context, channel string) ([]Message, error) {
	msgs, err := s.load(ctx, channel)
	if err != nil {
		return nil, err
	}
	return thread(msgs), nil
}

func (s *Service) load(ctx context.Context, channel string) ([]Message, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	q := docstore.Where("channel", channel)
	q.SortBy = "timestamp"
	docs, err := s.store.Find(ctx, Collection, q)
	if err != nil {
		return nil, fmt.Errorf("chat: list: %w", err)
	}
	msgs, err := docstore.DecodeAll[Message](docs)
	if err != nil {
		return nil, fmt.Errorf("chat: list: %w", err)
	}
	// RFC 3339 strings with trimmed fractions do not sort lexically.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// thread nests replies under their root message. Replies whose root is not
// in msgs are dropped.
func thread(msgs []Message) []Message {
	index := make(map[string]int)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ReplyTo == nil {
			m.Replies = []Message{}
			index[m.ID] = len(out)
			out = append(out, m)
		}
	}
	for _, m := range msgs {
		if m.ReplyTo == nil {
			continue
		}
		if i, ok := index[*m.ReplyTo]; ok {
			out[i].Replies = append(out[i].Replies, m)
		}
	}
	return out
}

// Recent returns the channel's latest messages for relay history, loading
// them from the store the first time a channel is asked for.
func (s *Service) Recent(ctx context.Context, channel string) ([]Message, error) {
	if !s.recent.Primed(channel) {
		msgs, err := s.load(ctx, channel)
		if err != nil {
			return nil, err
		}
		s.recent.Prime(channel, msgs)
	}
	return s.recent.Recent(channel), nil
}

// Send validates, moderates, stores and publishes a message.
func (s *Service) Send(ctx context.Context, req SendRequest) (Message, error) {
	if err := validation.Struct(req); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return Message{}, err
	}
	if err := ValidateMessage(req.Text); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return Message{}, err
	}

	channel := req.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	user := req.User
	user.Name = user.DisplayName()

	if err := s.checkMute(ctx, user.UID); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return Message{}, err
	}

	if res := s.filter.Check(req.Text); res.Blocked {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		s.penalize(ctx, user.UID, res)
		return Message{}, fmt.Errorf("%w: %s", ErrMessageBlocked, res.Reason)
	}

	msg := Message{
		Text:      req.Text,
		User:      user,
		Channel:   channel,
		Timestamp: s.now().UTC(),
	}
	if req.ReplyTo != "" {
		root, err := s.replyRoot(ctx, req.ReplyTo, channel)
		if err != nil {
			return Message{}, err
		}
		msg.ReplyTo = &root
	}

	doc, err := docstore.Encode(msg)
	if err != nil {
		return Message{}, fmt.Errorf("chat: send: %w", err)
	}
	delete(doc, docstore.IDField)
	delete(doc, "replies")
	id, err := s.store.Insert(ctx, Collection, doc)
	if err != nil {
		return Message{}, fmt.Errorf("chat: send: %w", err)
	}
	msg.ID = id
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if s.recent.Primed(channel) {
		s.recent.Add(channel, msg)
	}
	if s.pub != nil {
		if err := s.pub.PublishEvent(messaging.ChatSubject(channel), messaging.EventNewMessage, msg); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("publish new-message failed")
		}
	}
	return msg, nil
}

// checkMute fails open when the ban store is unreachable.
func (s *Service) checkMute(ctx context.Context, userID string) error {
	if s.mutes == nil {
		return nil
	}
	st, err := s.mutes.Check(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("mute check failed")
		return nil
	}
	if st.Muted {
		return fmt.Errorf("%w for %s", ErrUserMuted, st.Remaining.Round(time.Second))
	}
	return nil
}

func (s *Service) penalize(ctx context.Context, userID string, res moderation.FilterResult) {
	s.log.Info().Str("user", userID).Str("reason", res.Reason).Str("term", res.Term).Msg("message blocked")
	if s.mutes == nil {
		return
	}
	d, err := s.mutes.RecordOffense(ctx, userID, res.Reason)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("record offense failed")
		return
	}
	s.log.Info().Str("user", userID).Dur("mute", d).Msg("user muted")
}

// replyRoot resolves a reply target to the top-level message of its thread.
func (s *Service) replyRoot(ctx context.Context, id, channel string) (string, error) {
	doc, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", ErrReplyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chat: reply lookup: %w", err)
	}
	var parent Message
	if err := docstore.Decode(doc, &parent); err != nil {
		return "", fmt.Errorf("chat: reply lookup: %w", err)
	}
	if parent.Channel != channel {
		return "", ErrReplyNotFound
	}
	if parent.ReplyTo != nil {
		return *parent.ReplyTo, nil
	}
	return parent.ID, nil
}
