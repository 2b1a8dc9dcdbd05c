package push

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
)

// captureSender records every delivery and signals on a channel so tests
// can wait for the worker goroutine without sleeping.
type captureSender struct {
	mu       sync.Mutex
	subs     []Subscription
	payloads [][]byte
	sent     chan struct{}
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: make(chan struct{}, 16)}
}

func (c *captureSender) Send(sub Subscription, payload []byte) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	c.sent <- struct{}{}
	return nil
}

func (c *captureSender) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func testSubscription(endpoint string) Subscription {
	var sub Subscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = "client-public-key"
	sub.Keys.Auth = "client-auth-secret"
	return sub
}

func resetState(t *testing.T) {
	t.Helper()
	os.Remove(config.Get().PushSubsFile())
	os.Remove(config.Get().VapidFile())
}

func TestVapidKeypairGeneratedOnce(t *testing.T) {
	resetState(t)

	s1, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer s1.Shutdown()

	pub := s1.PublicKey()
	if pub == "" {
		t.Fatal("expected a public key")
	}

	raw, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("public key is not base64url: %v", err)
	}
	if len(raw) != 65 || raw[0] != 0x04 {
		t.Errorf("expected 65-byte uncompressed P-256 point, got %d bytes (first %#x)", len(raw), raw[0])
	}

	s2, err := NewService(nil)
	if err != nil {
		t.Fatalf("second NewService: %v", err)
	}
	defer s2.Shutdown()

	if s2.PublicKey() != pub {
		t.Error("expected second service to reload the same keypair, got a different public key")
	}
}

func TestSubscriptionsPersistAcrossRestart(t *testing.T) {
	resetState(t)

	s1, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := s1.Subscribe(testSubscription("https://push.example/a")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s1.Subscribe(testSubscription("https://push.example/b")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !s1.Unsubscribe("https://push.example/a") {
		t.Error("expected Unsubscribe of known endpoint to return true")
	}
	if s1.Unsubscribe("https://push.example/missing") {
		t.Error("expected Unsubscribe of unknown endpoint to return false")
	}

	// Shutdown flushes the debounced write.
	s1.Shutdown()

	s2, err := NewService(nil)
	if err != nil {
		t.Fatalf("second NewService: %v", err)
	}
	defer s2.Shutdown()

	if got := s2.SubscriptionCount(); got != 1 {
		t.Fatalf("expected 1 persisted subscription, got %d", got)
	}
	s2.mu.Lock()
	_, ok := s2.subs["https://push.example/b"]
	s2.mu.Unlock()
	if !ok {
		t.Error("expected the surviving subscription to be endpoint b")
	}
}

func TestSubscribeRequiresEndpoint(t *testing.T) {
	resetState(t)

	s, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer s.Shutdown()

	if err := s.Subscribe(Subscription{}); err == nil {
		t.Error("expected error for subscription without endpoint")
	}
}

func TestNotifyDeliversToAllSubscriptions(t *testing.T) {
	resetState(t)

	sender := newCaptureSender()
	s, err := NewService(sender)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer s.Shutdown()

	s.Subscribe(testSubscription("https://push.example/one"))
	s.Subscribe(testSubscription("https://push.example/two"))

	s.Notify("/home/user/projects/demo", "Turn complete", "Done in 3s")
	sender.waitFor(t, 2)

	sender.mu.Lock()
	defer sender.mu.Unlock()

	endpoints := map[string]bool{}
	for _, sub := range sender.subs {
		endpoints[sub.Endpoint] = true
	}
	if !endpoints["https://push.example/one"] || !endpoints["https://push.example/two"] {
		t.Errorf("expected delivery to both endpoints, got %v", endpoints)
	}

	var n Notification
	if err := json.Unmarshal(sender.payloads[0], &n); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if n.Folder != "/home/user/projects/demo" || n.Title != "Turn complete" || n.Body != "Done in 3s" {
		t.Errorf("unexpected payload: %+v", n)
	}
	if n.Timestamp == 0 {
		t.Error("expected a timestamp on the payload")
	}
}

func TestNotifyWithoutSubscriptionsIsQuiet(t *testing.T) {
	resetState(t)

	sender := newCaptureSender()
	s, err := NewService(sender)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer s.Shutdown()

	s.Notify("/tmp/f", "title", "body")

	select {
	case <-sender.sent:
		t.Error("expected no deliveries without subscriptions")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLogSenderCounts(t *testing.T) {
	var l LogSender
	l.Send(testSubscription("https://push.example/x"), []byte(`{}`))
	l.Send(testSubscription("https://push.example/y"), []byte(`{}`))
	if got := l.Sent(); got != 2 {
		t.Errorf("expected 2 recorded deliveries, got %d", got)
	}
}
