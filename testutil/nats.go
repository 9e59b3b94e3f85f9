package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/natsclient"
)

// Message is one payload published on the mock bus.
type Message struct {
	Topic   string
	Payload []byte
}

// MockBus is an in-memory natsclient.Bus. Delivery is synchronous: Publish
// returns after every matching handler has run. Handlers are called outside
// the lock so they may publish themselves.
type MockBus struct {
	mu         sync.RWMutex
	messages   []Message
	subs       map[int]*mockSubscription
	nextID     int
	publishErr error
	closed     bool
}

var _ natsclient.Bus = (*MockBus)(nil)

type mockSubscription struct {
	bus     *MockBus
	id      int
	pattern string
	handler natsclient.MsgHandler
}

func (s *mockSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// NewMockBus creates an empty bus.
func NewMockBus() *MockBus {
	return &MockBus{subs: make(map[int]*mockSubscription)}
}

// Publish records payload and delivers it to every matching subscriber.
func (b *MockBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.WrapTransient(errors.ErrNoConnection, "MockBus", "Publish", "check connection")
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}

	data := append([]byte(nil), payload...)
	b.messages = append(b.messages, Message{Topic: topic, Payload: data})

	var handlers []natsclient.MsgHandler
	for _, sub := range b.subs {
		if TopicMatches(sub.pattern, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		handler(msgCtx, topic, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler for a slash topic pattern.
func (b *MockBus) Subscribe(ctx context.Context, pattern string, handler natsclient.MsgHandler) (natsclient.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "MockBus", "Subscribe", "check connection")
	}

	b.nextID++
	sub := &mockSubscription{bus: b, id: b.nextID, pattern: pattern, handler: handler}
	b.subs[sub.id] = sub
	return sub, nil
}

// SetPublishError makes every later Publish fail with err. Nil clears it.
func (b *MockBus) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Messages returns a copy of everything published, in order.
func (b *MockBus) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message(nil), b.messages...)
}

// MessagesOn returns the payloads published on topic.
func (b *MockBus) MessagesOn(topic string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out [][]byte
	for _, m := range b.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// MessageCount returns the number of payloads published on topics matching pattern.
func (b *MockBus) MessageCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, m := range b.messages {
		if TopicMatches(pattern, m.Topic) {
			n++
		}
	}
	return n
}

// Subscriptions returns the number of active subscriptions.
func (b *MockBus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Reset forgets recorded messages.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

// Close makes later Publish and Subscribe calls fail.
func (b *MockBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// TopicMatches reports whether topic matches a slash pattern where "+"
// matches one level and a trailing "#" matches the rest.
func TopicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, seg := range p {
		if seg == "#" {
			return i == len(p)-1 && len(t) > i
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// WaitForMessageCount waits until at least count payloads matching pattern
// have been published.
func WaitForMessageCount(t testing.TB, bus *MockBus, pattern string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if bus.MessageCount(pattern) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on %s (got %d)", count, pattern, bus.MessageCount(pattern))
}

// AssertNoMessages fails the test if anything matching pattern was published.
func AssertNoMessages(t testing.TB, bus *MockBus, pattern string) {
	t.Helper()

	if n := bus.MessageCount(pattern); n > 0 {
		t.Fatalf("expected no messages on %s, got %d", pattern, n)
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, fmt.Sprintf(format, args...))
}
