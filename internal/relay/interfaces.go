package relay

import (
	"context"

	"truthrelay/internal/models"
)

// Fetcher retrieves the account's recent posts in source order.
type Fetcher interface {
	RecentPosts(ctx context.Context) ([]models.Post, error)
}

// SeenStore is the durable delivery log.
type SeenStore interface {
	IsSeen(ctx context.Context, postID string) (bool, error)
	MarkSeen(ctx context.Context, record models.DeliveryRecord) error
}

// Notifier relays one post to the chat sink.
type Notifier interface {
	Deliver(ctx context.Context, post models.Post) error
}
