package events

import (
	"context"

	"eventscope/internal/model"
)

// Event topic constants
const (
	TopicCatalogReady       = "eventscope.catalog.ready"
	TopicCatalogFailed      = "eventscope.catalog.failed"
	TopicPreferencesChanged = "eventscope.preferences.changed"

	// TopicAll matches every eventscope subject.
	TopicAll = "eventscope.>"
)

// Event types

type CatalogReady struct {
	SessionID        string `json:"session_id"`
	Source           string `json:"source"` // "cache" or "network"
	Categories       int    `json:"categories"`
	Events           int    `json:"events"`
	CountsConsistent bool   `json:"counts_consistent"`
}

type CatalogFailed struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error"`
}

type PreferencesChanged struct {
	SessionID           string           `json:"session_id"`
	Toggled             model.Category   `json:"toggled"`
	PreferredCategories []model.Category `json:"preferred_categories"`
	Persisted           bool             `json:"persisted"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
