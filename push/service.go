package push

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

const (
	saveDelay = 500 * time.Millisecond
	queueCap  = 64
)

// Subscription is a Web Push subscription as posted by a browser.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notification is the payload delivered to each subscription.
type Notification struct {
	Folder    string `json:"folder"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Sender delivers a serialized notification to one subscription.
type Sender interface {
	Send(sub Subscription, payload []byte) error
}

// LogSender counts and logs deliveries instead of performing them.
type LogSender struct {
	sent atomic.Int64
}

func (l *LogSender) Send(sub Subscription, payload []byte) error {
	l.sent.Add(1)
	log.Info().
		Str("endpoint", truncateEndpoint(sub.Endpoint)).
		Int("bytes", len(payload)).
		Msg("push notification dispatched")
	return nil
}

// Sent returns the number of deliveries recorded so far.
func (l *LogSender) Sent() int64 {
	return l.sent.Load()
}

func truncateEndpoint(endpoint string) string {
	if len(endpoint) > 64 {
		return endpoint[:64] + "..."
	}
	return endpoint
}

// vapidKeys is the persisted shape of vapid.json.
type vapidKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Service stores Web Push subscriptions and fans notifications out to a
// Sender from a single worker goroutine. Notify never blocks the caller.
type Service struct {
	mu    sync.Mutex
	subs  map[string]Subscription
	vapid vapidKeys

	sender Sender
	queue  chan Notification
	done   chan struct{}

	timer    *time.Timer
	stopping atomic.Bool
}

// NewService loads persisted subscriptions, loads or generates the VAPID
// keypair, and starts the delivery worker.
func NewService(sender Sender) (*Service, error) {
	if sender == nil {
		sender = &LogSender{}
	}
	s := &Service{
		subs:   make(map[string]Subscription),
		sender: sender,
		queue:  make(chan Notification, queueCap),
		done:   make(chan struct{}),
	}

	if err := s.loadVapid(); err != nil {
		return nil, err
	}
	s.loadSubscriptions()

	go s.deliverLoop()
	return s, nil
}

// PublicKey returns the base64url-encoded VAPID public key for the
// applicationServerKey field of a browser subscription.
func (s *Service) PublicKey() string {
	return s.vapid.PublicKey
}

// Subscribe registers or refreshes a subscription keyed by endpoint.
func (s *Service) Subscribe(sub Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription has no endpoint")
	}

	s.mu.Lock()
	s.subs[sub.Endpoint] = sub
	count := len(s.subs)
	s.queueSaveLocked()
	s.mu.Unlock()

	log.Info().Str("endpoint", truncateEndpoint(sub.Endpoint)).Int("count", count).Msg("push subscription added")
	return nil
}

// Unsubscribe removes the subscription with the given endpoint.
// Returns false if no such subscription exists.
func (s *Service) Unsubscribe(endpoint string) bool {
	s.mu.Lock()
	_, ok := s.subs[endpoint]
	if ok {
		delete(s.subs, endpoint)
		s.queueSaveLocked()
	}
	count := len(s.subs)
	s.mu.Unlock()

	if ok {
		log.Info().Str("endpoint", truncateEndpoint(endpoint)).Int("count", count).Msg("push subscription removed")
	}
	return ok
}

// SubscriptionCount returns the number of stored subscriptions.
func (s *Service) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Notify enqueues a notification for delivery to every subscription.
// Drops the notification if the delivery queue is full.
func (s *Service) Notify(folder, title, body string) {
	n := Notification{
		Folder:    folder,
		Title:     title,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case s.queue <- n:
	default:
		log.Warn().Str("folder", folder).Str("title", title).Msg("push queue full, notification dropped")
	}
}

// Shutdown stops the delivery worker and flushes pending subscription writes.
func (s *Service) Shutdown() {
	if s.stopping.Swap(true) {
		return
	}
	close(s.done)

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Service) deliverLoop() {
	for {
		select {
		case n := <-s.queue:
			s.deliver(n)
		case <-s.done:
			return
		}
	}
}

func (s *Service) deliver(n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal push notification")
		return
	}

	s.mu.Lock()
	subs := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.sender.Send(sub, payload); err != nil {
			log.Warn().Err(err).Str("endpoint", truncateEndpoint(sub.Endpoint)).Msg("push delivery failed")
		}
	}
}

// queueSaveLocked schedules a debounced write of push-subscriptions.json.
// Caller must hold s.mu.
func (s *Service) queueSaveLocked() {
	if s.stopping.Load() {
		return
	}
	if s.timer != nil {
		s.timer.Reset(saveDelay)
		return
	}
	s.timer = time.AfterFunc(saveDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.timer = nil
		if s.stopping.Load() {
			return
		}
		s.saveLocked()
	})
}

func (s *Service) saveLocked() {
	subs := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}

	path := config.Get().PushSubsFile()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Error().Err(err).Msg("failed to create config dir for push subscriptions")
		return
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal push subscriptions")
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write push subscriptions")
	}
}

func (s *Service) loadSubscriptions() {
	path := config.Get().PushSubsFile()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read push subscriptions")
		}
		return
	}

	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed push subscriptions file, starting empty")
		return
	}
	for _, sub := range subs {
		if sub.Endpoint == "" {
			continue
		}
		s.subs[sub.Endpoint] = sub
	}
	if len(s.subs) > 0 {
		log.Info().Int("count", len(s.subs)).Msg("loaded push subscriptions")
	}
}

// loadVapid reads the VAPID keypair from vapid.json, generating and
// persisting a fresh P-256 pair on first run.
func (s *Service) loadVapid() error {
	path := config.Get().VapidFile()
	data, err := os.ReadFile(path)
	if err == nil {
		var keys vapidKeys
		if jerr := json.Unmarshal(data, &keys); jerr == nil && keys.PublicKey != "" && keys.PrivateKey != "" {
			s.vapid = keys
			return nil
		}
		log.Warn().Str("path", path).Msg("malformed vapid file, regenerating keypair")
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read vapid file: %w", err)
	}

	keys, err := generateVapidKeys()
	if err != nil {
		return err
	}
	s.vapid = keys

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	out, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vapid keys: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write vapid file: %w", err)
	}

	log.Info().Str("path", path).Msg("generated VAPID keypair")
	return nil
}

// generateVapidKeys creates a P-256 keypair encoded the way the Web Push
// applicationServerKey expects: base64url, uncompressed point for the
// public key, raw scalar for the private key.
func generateVapidKeys() (vapidKeys, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return vapidKeys{}, fmt.Errorf("failed to generate VAPID keypair: %w", err)
	}
	return vapidKeys{
		PublicKey:  base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		PrivateKey: base64.RawURLEncoding.EncodeToString(key.Bytes()),
	}, nil
}
