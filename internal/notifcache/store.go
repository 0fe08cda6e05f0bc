package notifcache

import (
	"sync"
	"time"

	"github.com/cargolane/notify-core/internal/notification"
)

// Store is the in-memory notification cache: an ordered list (newest first),
// a running unread counter, the last stats snapshot, and connection/error
// flags for display. All mutations are serialized behind one mutex, so no
// two can interleave mid-update even though stream events and REST responses
// arrive from independent goroutines.
//
// The unread counter is deliberately not recomputed from the cached list:
// the cache may be a bounded window while the counter reflects the full
// server-side unread set. ReplaceList and SetStats are the points where it
// snaps back to the authoritative value.
type Store struct {
	mu            sync.Mutex
	notifications []notification.Notification
	unreadCount   int64
	stats         *notification.Stats
	loading       bool
	connected     bool
	err           error
}

// Snapshot is a copied view of the store, safe to read without aliasing
// internal state.
type Snapshot struct {
	Notifications []notification.Notification
	UnreadCount   int64
	Stats         *notification.Stats
	Loading       bool
	Connected     bool
	Err           error
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceList atomically overwrites the cached list and the unread counter.
// This is the sync point after a full fetch.
func (s *Store) ReplaceList(list []notification.Notification, unreadCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = make([]notification.Notification, len(list))
	copy(s.notifications, list)
	s.unreadCount = unreadCount
}

// Add upserts a pushed notification. A redelivered id (possible after a
// reconnect gap) replaces the cached entry in place, adjusting the unread
// counter by the delta; a new id is inserted at the head.
func (s *Store) Add(n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != n.ID {
			continue
		}
		switch {
		case !s.notifications[i].IsRead && n.IsRead:
			s.decrementUnread()
		case s.notifications[i].IsRead && !n.IsRead:
			s.unreadCount++
		}
		s.notifications[i] = n
		return
	}

	s.notifications = append([]notification.Notification{n}, s.notifications...)
	if !n.IsRead {
		s.unreadCount++
	}
}

// MarkRead applies a server-confirmed read to the cached entry. The confirmed
// entity wins over any local guess. Unknown ids are ignored.
func (s *Store) MarkRead(confirmed notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != confirmed.ID {
			continue
		}
		if !s.notifications[i].IsRead && confirmed.IsRead {
			s.decrementUnread()
		}
		s.notifications[i] = confirmed
		return
	}
}

// MarkAllRead marks every cached entry as read and zeroes the unread counter.
// Callers invoke it only after the server call succeeded.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := range s.notifications {
		s.notifications[i].IsRead = true
		if s.notifications[i].ReadAt == nil {
			readAt := now
			s.notifications[i].ReadAt = &readAt
		}
	}
	s.unreadCount = 0
}

// Delete removes a notification by id. Removing an id that is not cached is
// a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != id {
			continue
		}
		if !s.notifications[i].IsRead {
			s.decrementUnread()
		}
		s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
		return
	}
}

// SetStats overwrites the stats snapshot. The unread counter snaps to the
// authoritative server value, overriding anything accumulated locally.
func (s *Store) SetStats(stats notification.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = &stats
	s.unreadCount = stats.Unread
}

// SetConnected mirrors the stream connection state for display. It is never
// consulted for reconnection decisions.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// SetError records a failure for display. Prior list and counter state is
// left untouched.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
}

// UnreadCount returns the current running unread counter.
func (s *Store) UnreadCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCount
}

// Connected reports the mirrored stream connection state.
func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Err returns the last recorded failure, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns a copied view of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]notification.Notification, len(s.notifications))
	copy(list, s.notifications)

	var stats *notification.Stats
	if s.stats != nil {
		statsCopy := *s.stats
		stats = &statsCopy
	}

	return Snapshot{
		Notifications: list,
		UnreadCount:   s.unreadCount,
		Stats:         stats,
		Loading:       s.loading,
		Connected:     s.connected,
		Err:           s.err,
	}
}

// decrementUnread floors the counter at zero. Callers hold s.mu.
func (s *Store) decrementUnread() {
	if s.unreadCount > 0 {
		s.unreadCount--
	}
}
