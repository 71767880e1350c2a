package messaging

import "sync"

// LocalBus delivers messages to subscribers in the same process. It is
// used when no NATS URL is configured and in tests. Delivery is
// synchronous on the publishing goroutine.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]localSub // key → subscription
}

type localSub struct {
	subject string
	handler Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]localSub)}
}

func (b *LocalBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	var targets []Handler
	for _, s := range b.subs {
		if s.subject == subject {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(subject, data)
	}
	return nil
}

func (b *LocalBus) Subscribe(subject, key string, handler Handler) error {
	b.mu.Lock()
	b.subs[key] = localSub{subject: subject, handler: handler}
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Unsubscribe(key string) error {
	b.mu.Lock()
	delete(b.subs, key)
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() {
	b.mu.Lock()
	b.subs = make(map[string]localSub)
	b.mu.Unlock()
}
