// Package relay orchestrates the fetch → dedupe → deliver → commit cycle.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"truthrelay/internal/models"
	"truthrelay/internal/textutil"
)

// Pipeline runs one tick at a time over a single account. Delivery happens
// strictly before commit, so a crash between the two redelivers the post on a
// later tick rather than losing it. That narrow at-least-once window is the
// only path to a duplicate message.
type Pipeline struct {
	fetcher  Fetcher
	store    SeenStore
	notifier Notifier
	now      func() time.Time
}

func NewPipeline(f Fetcher, s SeenStore, n Notifier) *Pipeline {
	return &Pipeline{
		fetcher:  f,
		store:    s,
		notifier: n,
		now:      time.Now,
	}
}

// Tick fetches candidate posts and relays every unseen one in the order it
// was originally published. The first store outage, delivery exhaustion, or
// commit failure aborts the remainder of the tick: skipping past an
// unconfirmed post would reorder the stream or leave gaps for readers, and
// everything unfinished is retried on the next tick anyway.
func (p *Pipeline) Tick(ctx context.Context) error {
	posts, err := p.fetcher.RecentPosts(ctx)
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}

	// The source returns newest-first and makes no ordering promise;
	// readers of the sink expect publication order.
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})

	var delivered int
	for _, post := range posts {
		seen, err := p.store.IsSeen(ctx, post.ID)
		if err != nil {
			return fmt.Errorf("seen check for post %s: %w", post.ID, err)
		}
		if seen {
			slog.Debug("Post already delivered, skipping", "id", post.ID)
			continue
		}

		if textutil.IsRepost(post.Content) {
			// Recorded so it is never examined again, but not relayed.
			// Nothing was sent, so a failed commit here is harmless.
			if err := p.store.MarkSeen(ctx, models.NewDeliveryRecord(post, p.now())); err != nil {
				slog.Warn("Could not record repost, will re-check next tick", "id", post.ID, "error", err)
			} else {
				slog.Info("Skipped repost", "id", post.ID)
			}
			continue
		}

		if err := p.notifier.Deliver(ctx, post); err != nil {
			return fmt.Errorf("deliver post %s: %w", post.ID, err)
		}

		if err := p.store.MarkSeen(ctx, models.NewDeliveryRecord(post, p.now())); err != nil {
			// The post went out but is not recorded: it will be sent
			// again next tick.
			slog.Error("Delivered post could not be committed, duplicate delivery likely",
				"id", post.ID, "error", err)
			return fmt.Errorf("commit post %s: %w", post.ID, err)
		}

		delivered++
		slog.Info("Relayed post", "id", post.ID, "created_at", post.CreatedAt)
	}

	slog.Info("Tick complete", "fetched", len(posts), "delivered", delivered)
	return nil
}
