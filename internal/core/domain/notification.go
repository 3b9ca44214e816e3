package domain

import "time"

// Notification is a reminder to surface on the user's device. UniqueID
// is freshly generated per dispatch so the client never coalesces two
// reminders into one.
type Notification struct {
	UniqueID string `json:"unique_id"`
	RegionID string `json:"region_id,omitempty"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Body     string `json:"body"`
}

// NotificationRecord is the audit-log row kept for every dispatched
// notification.
type NotificationRecord struct {
	ID           string    `json:"id"`
	RegionID     string    `json:"region_id"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle"`
	Body         string    `json:"body"`
	DispatchedAt time.Time `json:"dispatched_at"`
}
