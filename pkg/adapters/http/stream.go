package http

import (
	"log/slog"
	"sync"
)

// StreamManager fans run events out to active SSE connections. Topics are run
// IDs; subscribers of a topic each get their own buffered channel.
type StreamManager struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
}

// NewStreamManager creates an empty stream registry.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		logger:      logger,
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

// Subscribe registers a listener on a topic. The cancel func removes the
// subscription and closes the channel; calling it after Close is a no-op.
func (sm *StreamManager) Subscribe(topic string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[topic]; !ok {
		sm.subscribers[topic] = make(map[chan<- string]struct{})
	}
	sm.subscribers[topic][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[topic]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(sm.subscribers, topic)
			}
		}
	}
}

// Broadcast delivers a message to every subscriber of the topic. Slow
// subscribers with a full buffer miss the message rather than block the run.
func (sm *StreamManager) Broadcast(topic string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if subs, ok := sm.subscribers[topic]; ok {
		for ch := range subs {
			select {
			case ch <- msg:
			default:
				sm.logger.Warn("sse client buffer full, dropping message", "topic", topic)
			}
		}
	}
}

// Close ends a topic: every subscriber channel is closed and the topic is
// forgotten. Later Broadcasts to the topic deliver to nobody.
func (sm *StreamManager) Close(topic string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for ch := range sm.subscribers[topic] {
		close(ch)
	}
	delete(sm.subscribers, topic)
}
