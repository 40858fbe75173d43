// Package storage persists the append-only delivery log in Firestore.
// Documents are keyed by post ID; a document's existence is the "already
// delivered" signal. Records are never updated or deleted.
package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"truthrelay/internal/models"
)

type Client struct {
	client     *firestore.Client
	collection string
}

func New(ctx context.Context, projectID, collection string) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{client: client, collection: collection}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IsSeen reports whether a delivery record exists for the post. Any failure
// other than NotFound surfaces as ErrStoreUnavailable; the caller must not
// assume "not seen" in that case.
func (c *Client) IsSeen(ctx context.Context, postID string) (bool, error) {
	doc, err := c.client.Collection(c.collection).Doc(postID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("%w: get %s: %v", models.ErrStoreUnavailable, postID, err)
	}
	return doc.Exists(), nil
}

// MarkSeen writes the delivery record. Set semantics make this an idempotent
// upsert: committing the same post twice overwrites harmlessly.
func (c *Client) MarkSeen(ctx context.Context, record models.DeliveryRecord) error {
	_, err := c.client.Collection(c.collection).Doc(record.PostID).Set(ctx, record)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", models.ErrStoreUnavailable, record.PostID, err)
	}
	return nil
}

// LastDelivered returns the most recent delivery record, or nil when the log
// is empty. Used once at startup to log where the relay resumes from.
func (c *Client) LastDelivered(ctx context.Context) (*models.DeliveryRecord, error) {
	iter := c.client.Collection(c.collection).
		OrderBy("sent_at", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query last delivery: %v", models.ErrStoreUnavailable, err)
	}

	var record models.DeliveryRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("unmarshal delivery record %s: %w", doc.Ref.ID, err)
	}
	record.PostID = doc.Ref.ID
	return &record, nil
}
