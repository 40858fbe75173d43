package models

import (
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when the delivery log cannot be reached.
// The pipeline never treats a post as unseen on a store error.
var ErrStoreUnavailable = errors.New("delivery store unavailable")

// ErrDeliveryFailed is returned after all webhook attempts for a post are
// exhausted. The post stays uncommitted and is retried on a later tick.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// MediaKind classifies a post attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaGif   MediaKind = "gifv"
)

// Media describes one attachment on a post, in original post order.
type Media struct {
	URL  string    `firestore:"url" json:"url" validate:"required,url"`
	Kind MediaKind `firestore:"type" json:"type" validate:"required,oneof=image video gifv"`
}

// Post is one status fetched from the monitored account. Posts are ephemeral:
// built fresh on every fetch and discarded once the tick is done. ID is the
// platform-assigned identifier and the sole dedupe key.
type Post struct {
	ID          string    `validate:"required"`
	Content     string    // may be empty for media-only posts
	CreatedAt   time.Time `validate:"required"`
	Username    string
	DisplayName string
	Media       []Media `validate:"omitempty,dive"`
}

// DeliveryRecord is the durable proof that a post was relayed. It is written
// exactly once, after a successful delivery, and never updated or deleted.
type DeliveryRecord struct {
	PostID      string    `firestore:"-"` // document ID, not stored as a field
	Content     string    `firestore:"content"`
	CreatedAt   time.Time `firestore:"created_at"`
	SentAt      time.Time `firestore:"sent_at"`
	Username    string    `firestore:"username"`
	DisplayName string    `firestore:"display_name,omitempty"`
	Media       []Media   `firestore:"media_attachments,omitempty"`
}

// NewDeliveryRecord snapshots a post into its persisted form. SentAt is the
// writer's wall clock, not the source timestamp.
func NewDeliveryRecord(p Post, sentAt time.Time) DeliveryRecord {
	return DeliveryRecord{
		PostID:      p.ID,
		Content:     p.Content,
		CreatedAt:   p.CreatedAt,
		SentAt:      sentAt,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Media:       p.Media,
	}
}
