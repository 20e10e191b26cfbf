package coachlink

import (
	"context"
	"sort"
	"sync"
	"time"
)

// UnreadStrategy selects how the unread counter is maintained.
type UnreadStrategy int

const (
	// UnreadPageLocal counts the unread notifications in the local list:
	// recomputed over the merged window on every fetch, then adjusted by
	// live events (+1 per new unread arrival, -1 per mark-read, floored
	// at zero). Exact for the notifications the client has seen, blind to
	// unread ones beyond the fetched window.
	UnreadPageLocal UnreadStrategy = iota
	// UnreadServerTotal trusts the unreadCount the server reports on
	// every fetch, covering notifications outside the fetched window.
	UnreadServerTotal
)

// ToastFunc receives notifications that should be surfaced to the user
// immediately.
type ToastFunc func(Notification)

// NotificationOption configures a NotificationStore.
type NotificationOption func(*NotificationStore)

// WithUnreadStrategy overrides the default page-local unread counting.
func WithUnreadStrategy(s UnreadStrategy) NotificationOption {
	return func(ns *NotificationStore) { ns.strategy = s }
}

// WithToast registers the toast callback.
func WithToast(fn ToastFunc) NotificationOption {
	return func(ns *NotificationStore) { ns.onToast = fn }
}

// NotificationStore holds the notification list, newest-first, merging
// three producers into one deduplicated view: REST pagination, live socket
// delivery, and the missed-notification replay after a reconnect.
type NotificationStore struct {
	*notifier
	api      *Client
	em       Emitter
	self     Identity
	strategy UnreadStrategy
	onToast  ToastFunc

	mu         sync.Mutex
	items      []Notification
	unread     int
	totalCount int
	hasMore    bool
}

// NewNotificationStore creates an empty store backed by the REST client for
// pagination and the emitter for read announcements.
func NewNotificationStore(api *Client, em Emitter, self Identity, opts ...NotificationOption) *NotificationStore {
	ns := &NotificationStore{
		notifier: newNotifier(),
		api:      api,
		em:       em,
		self:     self,
	}
	for _, opt := range opts {
		opt(ns)
	}
	return ns
}

// Fetch loads a page from the REST API and merges it into the store. Page 1
// replaces the local window outright so a refetch always converges with the
// server; later pages merge by id so live arrivals between fetches are not
// lost.
func (ns *NotificationStore) Fetch(ctx context.Context, page, limit int) (*NotificationPage, error) {
	result, err := ns.api.FetchNotifications(ctx, page, limit)
	if err != nil {
		return nil, err
	}

	ns.mu.Lock()
	if page <= 1 {
		ns.items = append([]Notification{}, result.Notifications...)
	} else {
		known := make(map[string]int, len(ns.items))
		for i, n := range ns.items {
			known[n.ID] = i
		}
		for _, n := range result.Notifications {
			if i, dup := known[n.ID]; dup {
				ns.items[i] = n
			} else {
				ns.items = append(ns.items, n)
			}
		}
	}
	sortNotifications(ns.items)
	ns.totalCount = result.TotalCount
	ns.hasMore = result.HasMore
	switch ns.strategy {
	case UnreadServerTotal:
		ns.unread = result.UnreadCount
	default:
		ns.unread = countUnread(ns.items)
	}
	ns.mu.Unlock()

	ns.notify("notifications.fetched", ns.Snapshot())

	// The server fans the fetched batch out to the user's other devices so
	// their badges converge. Local state is already correct either way.
	if ns.em != nil && ns.em.Status() == StatusConnected {
		_ = ns.em.Emit("notificationsFetched", map[string]any{
			"userId":        ns.self.UserID,
			"notifications": result.Notifications,
		})
	}
	return result, nil
}

// ApplyIncoming merges one live notification. An arrival whose id matches a
// temporary local entry replaces it in place and clears the temporary flag;
// an id already known is dropped; anything else is prepended. The unread
// counter and toast fire only for genuinely new unread arrivals.
func (ns *NotificationStore) ApplyIncoming(n Notification) {
	ns.mu.Lock()
	for i := range ns.items {
		existing := &ns.items[i]
		if existing.ID != n.ID {
			continue
		}
		if existing.IsTemporary {
			n.IsTemporary = false
			ns.items[i] = n
			ns.mu.Unlock()
			ns.notify("notification.updated", n)
			return
		}
		ns.mu.Unlock()
		return
	}
	ns.items = append([]Notification{n}, ns.items...)
	if !n.IsRead {
		ns.unread++
	}
	ns.mu.Unlock()

	ns.notify("notification.new", n)
	if !n.IsRead {
		ns.toast(n)
	}
}

// ApplyMissed merges the replay batch delivered after a reconnect. Only ids
// the store has never seen count toward unread or raise a toast; the server
// replays a window, not a diff.
func (ns *NotificationStore) ApplyMissed(batch []Notification) {
	ns.mu.Lock()
	known := make(map[string]struct{}, len(ns.items))
	for _, n := range ns.items {
		known[n.ID] = struct{}{}
	}
	var fresh []Notification
	for _, n := range batch {
		if _, dup := known[n.ID]; dup {
			continue
		}
		known[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 {
		ns.mu.Unlock()
		return
	}
	ns.items = append(ns.items, fresh...)
	sortNotifications(ns.items)
	for _, n := range fresh {
		if !n.IsRead {
			ns.unread++
		}
	}
	ns.mu.Unlock()

	ns.notify("notifications.missed", fresh)
	for _, n := range fresh {
		if !n.IsRead {
			ns.toast(n)
		}
	}
}

// AddTemporary inserts a client-generated notification, used for local
// status toasts that never came from the server. Temporary entries are
// replaced in place if the server later delivers the real thing under the
// same id.
func (ns *NotificationStore) AddTemporary(title, message string, ntype NotificationType) Notification {
	n := Notification{
		ID:          newTempID(),
		UserID:      ns.self.UserID,
		Title:       title,
		Message:     message,
		Type:        ntype,
		CreatedAt:   time.Now().UTC(),
		IsTemporary: true,
	}
	ns.mu.Lock()
	ns.items = append([]Notification{n}, ns.items...)
	ns.unread++
	ns.mu.Unlock()

	ns.notify("notification.new", n)
	ns.toast(n)
	return n
}

// MarkRead flips a notification to read locally, then persists via REST and
// announces over the socket. The optimistic flip is not rolled back on
// failure; the next page-1 fetch reconverges with the server.
func (ns *NotificationStore) MarkRead(ctx context.Context, id string) error {
	ns.mu.Lock()
	flipped := false
	for i := range ns.items {
		if ns.items[i].ID == id && !ns.items[i].IsRead {
			ns.items[i].IsRead = true
			flipped = true
			break
		}
	}
	if flipped && ns.unread > 0 {
		ns.unread--
	}
	ns.mu.Unlock()

	if flipped {
		ns.notify("notification.read", id)
	}

	if err := ns.api.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	if ns.em != nil && ns.em.Status() == StatusConnected {
		_ = ns.em.Emit("notificationRead", map[string]string{
			"notificationId": id,
			"userId":         ns.self.UserID,
		})
	}
	return nil
}

// HandleTransportError resynchronizes with the server after a protocol
// error: the local window may have diverged, so refetch page 1 in the
// background.
func (ns *NotificationStore) HandleTransportError(message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		_, _ = ns.Fetch(ctx, 1, 10)
	}()
}

// UnreadCount returns the current unread counter.
func (ns *NotificationStore) UnreadCount() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.unread
}

// HasMore reports whether the server holds pages beyond the local window.
func (ns *NotificationStore) HasMore() bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.hasMore
}

// Snapshot returns a copy of the notification list, newest-first.
func (ns *NotificationStore) Snapshot() []Notification {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]Notification, len(ns.items))
	copy(out, ns.items)
	return out
}

// Clear empties the store and resets the counter, for teardown.
func (ns *NotificationStore) Clear() {
	ns.mu.Lock()
	ns.items = nil
	ns.unread = 0
	ns.totalCount = 0
	ns.hasMore = false
	ns.mu.Unlock()
	ns.notify("notifications.cleared", nil)
}

func (ns *NotificationStore) toast(n Notification) {
	if ns.onToast != nil {
		ns.onToast(n)
	}
}

func sortNotifications(items []Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func countUnread(items []Notification) int {
	count := 0
	for _, n := range items {
		if !n.IsRead {
			count++
		}
	}
	return count
}
