package model

import (
	"time"
)

// ConfigEventType is the type of a tenant-configuration change notification.
type ConfigEventType string

const (
	ConfigEventCreated ConfigEventType = "tenant.config.created"
	ConfigEventUpdated ConfigEventType = "tenant.config.updated"
	ConfigEventDeleted ConfigEventType = "tenant.config.deleted"
)

// ConfigChangeEvent is the envelope delivered on the tenant-events queue.
// EventType, UserID and a config carrying a schema are mandatory; a missing
// schema is a domain error, never defaulted.
type ConfigChangeEvent struct {
	EventType ConfigEventType `json:"eventType"`
	UserID    string          `json:"userId"`
	Config    *TenantConfig   `json:"config"`
	EmittedAt time.Time       `json:"emittedAt,omitempty"`
}
