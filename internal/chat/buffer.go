package chat

import "sync"

// DefaultRecentMessages is how many messages per channel the relay replays
// to a newly subscribed client.
const DefaultRecentMessages = 20

// RecentBuffer keeps the last N messages of each channel in memory. It is
// safe for concurrent use.
type RecentBuffer struct {
	mu    sync.RWMutex
	size  int
	rings map[string]*ring
}

type ring struct {
	items []Message
	pos   int
	count int
}

func NewRecentBuffer(size int) *RecentBuffer {
	if size <= 0 {
		size = DefaultRecentMessages
	}
	return &RecentBuffer{size: size, rings: make(map[string]*ring)}
}

// Add appends msg to its channel, overwriting the oldest entry when full.
func (b *RecentBuffer) Add(channel string, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[channel]
	if !ok {
		r = &ring{items: make([]Message, b.size)}
		b.rings[channel] = r
	}
	r.items[r.pos] = msg
	r.pos = (r.pos + 1) % b.size
	if r.count < b.size {
		r.count++
	}
}

// Recent returns the channel's buffered messages oldest first. A channel
// with nothing buffered yields an empty, non-nil slice.
func (b *RecentBuffer) Recent(channel string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[channel]
	if !ok {
		return []Message{}
	}
	out := make([]Message, r.count)
	start := (r.pos - r.count + b.size) % b.size
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%b.size]
	}
	return out
}

// Prime replaces the channel's buffer with the newest msgs, which must be
// oldest first. Used to warm the buffer from the store.
func (b *RecentBuffer) Prime(channel string, msgs []Message) {
	if len(msgs) > b.size {
		msgs = msgs[len(msgs)-b.size:]
	}
	r := &ring{items: make([]Message, b.size)}
	copy(r.items, msgs)
	r.count = len(msgs)
	r.pos = len(msgs) % b.size

	b.mu.Lock()
	b.rings[channel] = r
	b.mu.Unlock()
}

// Primed reports whether the channel has a buffer, even an empty one.
func (b *RecentBuffer) Primed(channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rings[channel]
	return ok
}
