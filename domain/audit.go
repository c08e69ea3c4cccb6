package domain

import "time"

// AuditEvent records one mutation applied by the backend.
type AuditEvent struct {
	UserID string    `json:"user_id"`
	Op     string    `json:"op"`
	Target string    `json:"target"`
	At     time.Time `json:"at"`
}
