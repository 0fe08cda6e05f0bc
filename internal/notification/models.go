package notification

import (
	"time"
)

// Priority levels for a notification, mirroring the backend enum.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Named events emitted on the notification stream.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
	EventDisconnected = "disconnected"
)

// Notification is one operational alert delivered to a back-office user.
type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	TenantID   string         `json:"tenant_id"`
	Type       string         `json:"type"`
	Category   string         `json:"category"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Priority   string         `json:"priority"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Status     string         `json:"status"`
	IsRead     bool           `json:"is_read"`
	ReadAt     *time.Time     `json:"read_at,omitempty"`
	ActionURL  string         `json:"action_url,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Stats is the authoritative summary of a user's notifications on the server.
// Unread reflects the full server-side unread set, not just the cached window.
type Stats struct {
	Total      int64            `json:"total"`
	Unread     int64            `json:"unread"`
	ByType     map[string]int64 `json:"by_type"`
	ByPriority map[string]int64 `json:"by_priority"`
}

// Preferences controls which channels and event types a user wants.
type Preferences struct {
	EmailEnabled bool     `json:"email_enabled"`
	PushEnabled  bool     `json:"push_enabled"`
	MutedTypes   []string `json:"muted_types"`
}

// ListParams are the supported filters for listing notifications.
type ListParams struct {
	IsRead   *bool
	Type     string
	Priority string
	Limit    int
	Offset   int
}

// ListResponse is the paginated list payload returned by the backend.
type ListResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	UnreadCount   int64          `json:"unread_count"`
}
