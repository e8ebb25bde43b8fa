// Package models defines the shared data model for the coherent core:
// the fixed topic enumeration, the typed payload carried by each topic,
// and the moderation types produced by the filter pipeline. Every event
// flowing through the bus uses one of these types; no ad-hoc
// map[string]interface{} payloads.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Topic names an event stream on the bus. The set of topics is fixed;
// consumers subscribe by constant, never by assembled string.
type Topic string

const (
	// Content interaction topics
	TopicContentLiked       Topic = "content.liked"
	TopicContentUnliked     Topic = "content.unliked"
	TopicContentFavorited   Topic = "content.favorited"
	TopicContentUnfavorited Topic = "content.unfavorited"
	TopicContentCommented   Topic = "content.commented"

	// Content lifecycle topics
	TopicContentCreated Topic = "content.created"
	TopicContentUpdated Topic = "content.updated"
	TopicContentDeleted Topic = "content.deleted"

	// Messaging topics
	TopicMessageSent Topic = "message.sent"

	// High-frequency positional topics, debounced by default
	TopicLocationChanged Topic = "location.changed"
	TopicViewportChanged Topic = "viewport.changed"
)

// AllTopics is the full permitted set, in a stable order.
var AllTopics = []Topic{
	TopicContentLiked,
	TopicContentUnliked,
	TopicContentFavorited,
	TopicContentUnfavorited,
	TopicContentCommented,
	TopicContentCreated,
	TopicContentUpdated,
	TopicContentDeleted,
	TopicMessageSent,
	TopicLocationChanged,
	TopicViewportChanged,
}

var debouncedDefaults = map[Topic]struct{}{
	TopicLocationChanged: {},
	TopicViewportChanged: {},
}

// DebouncedByDefault reports whether emissions on the topic should be
// coalesced rather than delivered immediately. Positional topics fire on
// every sensor tick, so they default to trailing-edge debounce.
func DebouncedByDefault(t Topic) bool {
	_, ok := debouncedDefaults[t]
	return ok
}

// Event is the envelope delivered to subscribers. Payload holds the
// topic's typed payload struct (ContentPayload, MessagePayload, ...).
type Event struct {
	EventID   string
	Topic     Topic
	EmittedAt time.Time
	Payload   any
}

// NewEvent stamps an envelope for the given topic.
func NewEvent(topic Topic, payload any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Topic:     topic,
		EmittedAt: time.Now(),
		Payload:   payload,
	}
}

// ContentPayload rides on the content interaction and lifecycle topics.
type ContentPayload struct {
	ContentID string
	UserID    string
	LikeCount int
	FavCount  int
}

// CommentPayload rides on TopicContentCommented.
type CommentPayload struct {
	ContentID string
	CommentID string
	UserID    string
	Preview   string
}

// MessagePayload rides on TopicMessageSent.
type MessagePayload struct {
	RoomID    string
	MessageID string
	SenderID  string
	SentAt    time.Time
}

// LocationPayload rides on TopicLocationChanged and TopicViewportChanged.
type LocationPayload struct {
	Latitude  float64
	Longitude float64
	ZoomLevel float64
}
