// Package notifier delivers posts to a Discord webhook under a local rate
// limit with bounded retry.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"truthrelay/internal/models"
	"truthrelay/internal/textutil"
)

const (
	// maxMessageLen is Discord's hard limit for webhook message content.
	maxMessageLen = 2000
	// maxEmbedsPerMessage is Discord's per-message embed cap. Posts with
	// more media are split into ordered follow-up messages.
	maxEmbedsPerMessage = 10
)

type Client struct {
	webhookURL string
	username   string
	httpClient *http.Client
	maxRetries int

	// rateLimiter enforces the minimum spacing between outbound calls,
	// including retries and follow-up messages for oversized posts.
	rateLimiter *rate.Limiter
}

func New(webhookURL, username string, spacing time.Duration, maxRetries int) *Client {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Client{
		webhookURL:  webhookURL,
		username:    username,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  maxRetries,
		rateLimiter: rate.NewLimiter(limit, 1),
	}
}

type webhookPayload struct {
	Content  string         `json:"content,omitempty"`
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbedImage struct {
	URL string `json:"url,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title  string             `json:"title,omitempty"`
	URL    string             `json:"url,omitempty"`
	Image  discordEmbedImage  `json:"image,omitempty"`
	Footer discordEmbedFooter `json:"footer,omitempty"`
}

// Deliver relays one post to the webhook. A post maps to exactly one message,
// or to a deterministic ordered sequence when its media exceeds the embed cap.
// On retry exhaustion the returned error wraps models.ErrDeliveryFailed and
// the caller must not commit the post.
func (c *Client) Deliver(ctx context.Context, post models.Post) error {
	if c.webhookURL == "" {
		slog.Info("Webhook delivery disabled, skipping post", "id", post.ID)
		return nil
	}

	messages := c.buildMessages(post)
	for i, msg := range messages {
		if err := c.sendWithRetry(ctx, msg); err != nil {
			return fmt.Errorf("post %s message %d/%d: %w", post.ID, i+1, len(messages), err)
		}
	}

	slog.Info("Delivered post to Discord", "id", post.ID, "messages", len(messages), "media", len(post.Media))
	return nil
}

// buildMessages shapes a post into webhook payloads: a lead message carrying
// the text plus the first batch of media, then overflow messages preserving
// the original media order.
func (c *Client) buildMessages(post models.Post) []webhookPayload {
	header := fmt.Sprintf("**New post from %s (@%s)**\n", displayName(post), post.Username)
	footer := fmt.Sprintf("\n*Posted at: %s*", post.CreatedAt.Format("January 2, 2006 at 3:04 PM MST"))

	content := textutil.CleanHTML(post.Content)
	if maxContent := maxMessageLen - len(header) - len(footer) - 50; len(content) > maxContent {
		content = content[:maxContent-3] + "..."
	}

	lead := webhookPayload{
		Content:  header + content + footer,
		Username: c.username,
	}

	messages := []webhookPayload{lead}
	for start := 0; start < len(post.Media); start += maxEmbedsPerMessage {
		end := start + maxEmbedsPerMessage
		if end > len(post.Media) {
			end = len(post.Media)
		}
		batch := make([]discordEmbed, 0, end-start)
		for _, m := range post.Media[start:end] {
			batch = append(batch, mediaEmbed(m))
		}
		if start == 0 {
			messages[0].Embeds = batch
		} else {
			messages = append(messages, webhookPayload{Username: c.username, Embeds: batch})
		}
	}
	return messages
}

func mediaEmbed(m models.Media) discordEmbed {
	embed := discordEmbed{
		URL:    m.URL,
		Footer: discordEmbedFooter{Text: string(m.Kind)},
	}
	switch m.Kind {
	case models.MediaImage, models.MediaGif:
		embed.Image = discordEmbedImage{URL: m.URL}
	case models.MediaVideo:
		// Discord embeds don't play arbitrary video; link it instead.
		embed.Title = "Video attachment"
	}
	return embed
}

func displayName(post models.Post) string {
	if post.DisplayName != "" {
		return post.DisplayName
	}
	return post.Username
}

// sendWithRetry posts one payload, waiting on the rate limiter before every
// attempt. Transient failures (network, 5xx, 429) retry with a backoff that
// never decreases between attempts; other 4xx responses fail immediately.
func (c *Client) sendWithRetry(ctx context.Context, payload webhookPayload) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.send(ctx, payload)
		if err != nil {
			// Network-level failure, transient by assumption.
			lastErr = err
			if attempt < c.maxRetries {
				if err := sleepCtx(ctx, expBackoff(attempt)); err != nil {
					return err
				}
			}
			continue
		}

		if resp.statusCode >= 200 && resp.statusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("discord status %d: %s", resp.statusCode, resp.body)
		backoff := retryBackoff(resp, attempt)
		if backoff == 0 {
			// Permanent client error; retrying can't help.
			return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, lastErr)
		}
		if attempt < c.maxRetries {
			slog.Warn("Webhook attempt failed, backing off", "status", resp.statusCode, "attempt", attempt+1, "backoff", backoff)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: after %d attempts: %v", models.ErrDeliveryFailed, c.maxRetries+1, lastErr)
}

type webhookResult struct {
	statusCode int
	retryAfter string
	body       string
}

func (c *Client) send(ctx context.Context, payload webhookPayload) (*webhookResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &webhookResult{
		statusCode: resp.StatusCode,
		retryAfter: resp.Header.Get("Retry-After"),
		body:       string(respBody),
	}, nil
}

// retryBackoff decides how long to wait before retrying a failed attempt.
// Zero means the failure is permanent. A sink-provided Retry-After always
// wins over the local schedule when it is longer.
func retryBackoff(resp *webhookResult, attempt int) time.Duration {
	switch {
	case resp.statusCode == http.StatusTooManyRequests:
		backoff := expBackoff(attempt)
		if secs, err := strconv.ParseFloat(resp.retryAfter, 64); err == nil && secs > 0 {
			if hinted := time.Duration(secs * float64(time.Second)); hinted > backoff {
				return hinted
			}
		}
		return backoff
	case resp.statusCode >= 500:
		return expBackoff(attempt)
	default:
		return 0
	}
}

func expBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
