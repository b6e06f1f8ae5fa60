package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the settings package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Changes maps each changed key to its new value. A deleted key maps to nil.
type Changes map[string]any

// Keys returns the changed keys in sorted order.
func (c Changes) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Callback receives the changes that matched a subscription's filter.
type Callback func(changes Changes)

// Subscription is a live store subscription.
type Subscription interface {
	// Cancel stops delivery. It is idempotent.
	Cancel()
}

// Store provides settings access with caching and change notification.
// It wraps a Repository and keeps every value in memory; a nil Repository
// makes the store memory-only.
//
// Callbacks run synchronously on the goroutine that made the change,
// outside of the store's locks, so they may read the store.
//
// All public methods are thread-safe.
type Store struct {
	repo   Repository
	logger Logger

	// writeMu serialises writers across the change check, the repository
	// write and the cache update.
	writeMu sync.Mutex

	mu     sync.RWMutex
	values map[string]any
	raw    map[string]json.RawMessage

	subMu sync.Mutex
	subs  []*subscription
}

// NewStore creates a new settings store over repo.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: noopLogger{},
		values: make(map[string]any),
		raw:    make(map[string]json.RawMessage),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load replaces the cache with the repository contents.
// It should be called on application startup. No notifications are sent.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	values := make(map[string]any, len(stored))
	raw := make(map[string]json.RawMessage, len(stored))
	for key, encoded := range stored {
		var v any
		if err := json.Unmarshal(encoded, &v); err != nil {
			s.logger.Warn("skipping undecodable setting", "key", key, "error", err)
			continue
		}
		values[key] = v
		raw[key] = encoded
	}

	s.mu.Lock()
	s.values = values
	s.raw = raw
	s.mu.Unlock()

	s.logger.Info("settings loaded", "count", len(values))
	return nil
}

// Seed stores defaults for keys that have no value yet and returns how
// many were written. Existing values always win over defaults.
func (s *Store) Seed(ctx context.Context, defaults map[string]any) (int, error) {
	encoded, err := encodeValues(defaults)
	if err != nil {
		return 0, fmt.Errorf("seeding settings: %w", err)
	}

	s.writeMu.Lock()
	s.mu.RLock()
	for key := range encoded {
		if _, ok := s.raw[key]; ok {
			delete(encoded, key)
		}
	}
	s.mu.RUnlock()
	changes, err := s.apply(ctx, encoded)
	s.writeMu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("seeding settings: %w", err)
	}
	s.publish(changes)
	return len(changes), nil
}

// Get returns the decoded value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key has a value.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// String returns the value for key if it is a string.
func (s *Store) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Bool returns the value for key if it is a boolean.
func (s *Store) Bool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Snapshot returns a copy of every setting.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set stores a single value. Subscribers are notified only if the encoded
// value actually changed.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.Update(ctx, map[string]any{key: value})
}

// Update stores several values and sends a single notification carrying
// every key that changed.
func (s *Store) Update(ctx context.Context, values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	s.mu.RLock()
	for key, b := range encoded {
		if old, ok := s.raw[key]; ok && bytes.Equal(old, b) {
			delete(encoded, key)
		}
	}
	s.mu.RUnlock()
	changes, err := s.apply(ctx, encoded)
	s.writeMu.Unlock()

	if err != nil {
		return err
	}
	s.publish(changes)
	return nil
}

// Delete removes a setting. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.writeMu.Lock()
	if !s.Has(key) {
		s.writeMu.Unlock()
		return nil
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			s.writeMu.Unlock()
			return err
		}
	}
	s.mu.Lock()
	delete(s.values, key)
	delete(s.raw, key)
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.publish(Changes{key: nil})
	return nil
}

func encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		if key == "" {
			return nil, ErrEmptyKey
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
		}
		encoded[key] = b
	}
	return encoded, nil
}

// apply persists encoded and then updates the cache. The caller holds
// writeMu. Nothing reaches the cache when the repository write fails.
func (s *Store) apply(ctx context.Context, encoded map[string]json.RawMessage) (Changes, error) {
	if len(encoded) == 0 {
		return nil, nil
	}

	if s.repo != nil {
		if err := s.repo.Put(ctx, encoded); err != nil {
			return nil, err
		}
	}

	changes := make(Changes, len(encoded))
	s.mu.Lock()
	for key, b := range encoded {
		var v any
		_ = json.Unmarshal(b, &v) //nolint:errcheck // produced by json.Marshal
		s.values[key] = v
		s.raw[key] = b
		changes[key] = v
	}
	s.mu.Unlock()
	return changes, nil
}

func (s *Store) publish(changes Changes) {
	if len(changes) == 0 {
		return
	}
	s.logger.Debug("settings changed", "keys", changes.Keys())
	s.notify(changes)
}

// Filter starts a subscription restricted to keys.
// With no keys the subscription sees every change.
func (s *Store) Filter(keys ...string) *Filter {
	return &Filter{store: s, keys: keys}
}

// Wire subscribes cb to every change.
func (s *Store) Wire(cb Callback) Subscription {
	return s.Filter().Wire(cb)
}

// Filter is a key-restricted view used to create subscriptions.
type Filter struct {
	store *Store
	keys  []string
}

// Wire subscribes cb to changes of the filtered keys.
func (f *Filter) Wire(cb Callback) Subscription {
	sub := &subscription{store: f.store, cb: cb}
	if len(f.keys) > 0 {
		sub.keys = make(map[string]struct{}, len(f.keys))
		for _, k := range f.keys {
			sub.keys[k] = struct{}{}
		}
	}

	f.store.subMu.Lock()
	f.store.subs = append(f.store.subs, sub)
	f.store.subMu.Unlock()

	return sub
}

// SubscriptionCount returns the number of live subscriptions.
func (s *Store) SubscriptionCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store) notify(changes Changes) {
	s.subMu.Lock()
	subs := make([]*subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		if matched := sub.match(changes); len(matched) > 0 {
			s.deliver(sub, matched)
		}
	}
}

func (s *Store) deliver(sub *subscription, changes Changes) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("settings subscriber panic recovered", "keys", changes.Keys(), "panic", r)
		}
	}()
	sub.cb(changes)
}

func (s *Store) remove(target *subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub == target {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

type subscription struct {
	store *Store
	keys  map[string]struct{}
	cb    Callback
	once  sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() { s.store.remove(s) })
}

func (s *subscription) match(changes Changes) Changes {
	if s.keys == nil {
		return changes
	}
	var matched Changes
	for key, value := range changes {
		if _, ok := s.keys[key]; ok {
			if matched == nil {
				matched = make(Changes)
			}
			matched[key] = value
		}
	}
	return matched
}
