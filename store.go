package coachlink

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreListener observes state changes on a store. The payload type depends
// on the store and change kind.
type StoreListener func(change string, payload any)

// notifier is the subscription mechanism shared by all stores.
type notifier struct {
	mu        sync.RWMutex
	listeners map[string][]StoreListener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[string][]StoreListener)}
}

// Subscribe registers a listener for a change kind; "*" matches every
// change.
func (n *notifier) Subscribe(change string, l StoreListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[change] = append(n.listeners[change], l)
}

func (n *notifier) notify(change string, payload any) {
	n.mu.RLock()
	handlers := append(append([]StoreListener{}, n.listeners[change]...), n.listeners["*"]...)
	n.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(change, payload)
		}()
	}
}

func (n *notifier) removeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = make(map[string][]StoreListener)
}

// newTempID mints a client-side identifier for optimistic records. The
// server echoes it back so the optimistic copy can be reconciled with the
// confirmed one.
func newTempID() string {
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), uuid.NewString())
}
