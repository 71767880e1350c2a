package ws

import (
	"context"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// runHeartbeat pings every connection each Interval and drops those with no
// frames for Interval + Timeout. It returns when ctx is done.
func (r *Relay) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkConnections(time.Now())
		}
	}
}

func (r *Relay) checkConnections(now time.Time) {
	deadline := r.config.Heartbeat.Interval + r.config.Heartbeat.Timeout

	for _, c := range r.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			r.log.Info().Str("conn", c.ID).Dur("idle", idle.Round(time.Second)).Msg("heartbeat timeout")
			r.remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			r.log.Debug().Err(err).Str("conn", c.ID).Msg("heartbeat ping failed")
			r.remove(c)
		}
	}
}
