// Package ban mutes chat users whose messages keep tripping the moderation
// filter. Records live in Redis and expire on their own:
//
//	Key:   mute:<userID>      Value: <reason>   TTL: mute duration
//	Key:   offenses:<userID>  Value: <count>    TTL: OffenseWindow
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MutePrefix    = "mute:"
	OffensePrefix = "offenses:"

	// Escalating mute durations.
	Mute15Min  = 15 * time.Minute
	Mute1Hour  = time.Hour
	Mute24Hour = 24 * time.Hour

	// OffenseWindow is how long the offense counter lives. The window starts
	// at the first offense and does not slide.
	OffenseWindow = 24 * time.Hour
)

// Status describes a user's current mute.
type Status struct {
	Muted     bool
	Remaining time.Duration
	Reason    string
}

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Check returns the user's mute status. Redis errors are returned so the
// caller can fail open.
func (s *Store) Check(ctx context.Context, userID string) (Status, error) {
	key := MutePrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("ban: check: %w", err)
	}

	st := Status{Muted: true, Reason: reason}
	// A mute we can read but whose TTL we cannot is still a mute.
	if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		st.Remaining = ttl
	}
	return st, nil
}

// Mute silences userID for d.
func (s *Store) Mute(ctx context.Context, userID string, d time.Duration, reason string) error {
	return s.client.Set(ctx, MutePrefix+userID, reason, d).Err()
}

// Lift removes a mute immediately.
func (s *Store) Lift(ctx context.Context, userID string) error {
	return s.client.Del(ctx, MutePrefix+userID).Err()
}

func muteDuration(offenses int) time.Duration {
	switch {
	case offenses <= 1:
		return Mute15Min
	case offenses == 2:
		return Mute1Hour
	default:
		return Mute24Hour
	}
}

// Offenses returns the user's offense count in the current window.
func (s *Store) Offenses(ctx context.Context, userID string) (int, error) {
	n, err := s.client.Get(ctx, OffensePrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offenses: %w", err)
	}
	return n, nil
}

// RecordOffense counts an offense and mutes the user for a duration that
// grows with each offense in the window: 15m, 1h, then 24h. It returns the
// applied duration.
func (s *Store) RecordOffense(ctx context.Context, userID, reason string) (time.Duration, error) {
	key := OffensePrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: record offense incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffenseWindow).Err(); err != nil {
			return 0, fmt.Errorf("ban: record offense expire: %w", err)
		}
	}

	d := muteDuration(int(count))
	if err := s.Mute(ctx, userID, d, reason); err != nil {
		return 0, fmt.Errorf("ban: record offense mute: %w", err)
	}
	return d, nil
}
