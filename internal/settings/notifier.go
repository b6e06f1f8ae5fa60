package settings

import (
	"fmt"
	"sync"
)

// Subscriber is notified whenever one of the notifier's keys changes.
// A returned error is logged and does not affect other subscribers.
type Subscriber interface {
	OnConfigChanged() error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func() error

// OnConfigChanged calls f.
func (f SubscriberFunc) OnConfigChanged() error { return f() }

// Token identifies a wired subscriber.
type Token uint64

// Notifier fans changes of a fixed key set out to many subscribers while
// holding at most one store subscription.
//
// The store subscription exists exactly while at least one subscriber is
// wired: the first Wire opens it and the Unwire that empties the registry
// cancels it. Subscribers are notified in registration order over a
// snapshot of the registry, so a subscriber may wire or unwire (itself
// included) from inside its callback.
//
// All public methods are thread-safe.
type Notifier struct {
	store  *Store
	keys   []string
	logger Logger

	mu       sync.Mutex
	entries  []notifierEntry
	next     Token
	storeSub Subscription
}

type notifierEntry struct {
	token Token
	sub   Subscriber
}

// NewNotifier creates a notifier for keys of store.
func NewNotifier(store *Store, keys ...string) *Notifier {
	return &Notifier{
		store:  store,
		keys:   append([]string(nil), keys...),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// Keys returns the watched keys.
func (n *Notifier) Keys() []string {
	return append([]string(nil), n.keys...)
}

// Wire registers sub and returns the token to unwire it with.
func (n *Notifier) Wire(sub Subscriber) Token {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	token := n.next
	n.entries = append(n.entries, notifierEntry{token: token, sub: sub})

	if n.storeSub == nil {
		n.storeSub = n.store.Filter(n.keys...).Wire(n.dispatch)
		n.logger.Debug("notifier subscribed to store", "keys", n.keys)
	}

	return token
}

// Unwire removes the subscriber registered under token. Unknown tokens
// are ignored.
func (n *Notifier) Unwire(token Token) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, e := range n.entries {
		if e.token == token {
			n.entries = append(n.entries[:i:i], n.entries[i+1:]...)
			break
		}
	}

	if len(n.entries) == 0 && n.storeSub != nil {
		n.storeSub.Cancel()
		n.storeSub = nil
		n.logger.Debug("notifier released store subscription", "keys", n.keys)
	}
}

// Len returns the number of wired subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Active reports whether the store subscription is open.
func (n *Notifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.storeSub != nil
}

func (n *Notifier) dispatch(changes Changes) {
	n.mu.Lock()
	entries := make([]notifierEntry, len(n.entries))
	copy(entries, n.entries)
	n.mu.Unlock()

	for _, e := range entries {
		if err := notifyOne(e.sub); err != nil {
			n.logger.Error("error while notifying settings subscriber",
				"token", e.token,
				"keys", changes.Keys(),
				"error", err,
			)
		}
	}
}

// notifyOne turns a subscriber panic into an error.
func notifyOne(sub Subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.OnConfigChanged()
}
