// Package fetch retrieves the monitored account's recent posts through a
// FlareSolverr bypass proxy. The source speaks the Mastodon statuses API but
// actively blocks naive automated requests, so every call is routed through
// the solver with browser-like headers.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"truthrelay/internal/config"
	"truthrelay/internal/models"
	"truthrelay/internal/validator"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher returns the account's recent posts, newest first (source order).
type Fetcher interface {
	RecentPosts(ctx context.Context) ([]models.Post, error)
}

type Client struct {
	httpClient *http.Client
	solverURL  string
	instance   string
	account    string
	fetchLimit int
	maxRetries int
	validator  *validator.Validator

	// accountID is looked up once and reused; only the single pipeline
	// worker touches it. Reset on fetch failure in case it went stale.
	accountID string
}

func New(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		solverURL:  fmt.Sprintf("http://%s:%d/v1", cfg.SolverAddress, cfg.SolverPort),
		instance:   cfg.Instance,
		account:    cfg.Account,
		fetchLimit: cfg.FetchLimit,
		maxRetries: cfg.MaxRetries,
		validator:  validator.New(),
	}
}

// apiAccount is the subset of the account lookup payload we rely on.
type apiAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// apiStatus mirrors one entry of the statuses payload. Fields are loosely
// typed on the wire; conversion validates before anything leaves this package.
type apiStatus struct {
	ID               string     `json:"id"`
	Content          string     `json:"content"`
	CreatedAt        string     `json:"created_at"`
	Account          apiAccount `json:"account"`
	MediaAttachments []struct {
		Type       string `json:"type"`
		URL        string `json:"url"`
		PreviewURL string `json:"preview_url"`
	} `json:"media_attachments"`
}

// RecentPosts fetches the latest statuses for the configured account.
// Order is the source's (newest first); the pipeline normalizes it.
func (c *Client) RecentPosts(ctx context.Context) ([]models.Post, error) {
	if c.accountID == "" {
		if err := c.lookupAccountID(ctx); err != nil {
			return nil, err
		}
	}

	target := fmt.Sprintf("https://%s/api/v1/accounts/%s/statuses?%s", c.instance, c.accountID, url.Values{
		"exclude_replies": {"true"},
		"exclude_reblogs": {"true"},
		"limit":           {fmt.Sprintf("%d", c.fetchLimit)},
	}.Encode())

	var statuses []apiStatus
	if err := c.fetchJSON(ctx, target, &statuses); err != nil {
		// The cached ID may be the stale part; relearn it next tick.
		c.accountID = ""
		return nil, err
	}

	posts := make([]models.Post, 0, len(statuses))
	for _, st := range statuses {
		post, err := c.convertStatus(st)
		if err != nil {
			slog.Warn("Dropping malformed post from fetch payload", "id", st.ID, "error", err)
			continue
		}
		posts = append(posts, post)
	}

	slog.Info("Fetched posts", "account", c.account, "count", len(posts))
	return posts, nil
}

func (c *Client) lookupAccountID(ctx context.Context) error {
	target := fmt.Sprintf("https://%s/api/v1/accounts/lookup?acct=%s", c.instance, url.QueryEscape(c.account))

	var account apiAccount
	if err := c.fetchJSON(ctx, target, &account); err != nil {
		return err
	}
	if account.ID == "" {
		return &TransportError{URL: target, Err: fmt.Errorf("no account ID for %s", c.account)}
	}

	c.accountID = account.ID
	slog.Info("Resolved account ID", "account", c.account, "id", account.ID)
	return nil
}

// fetchJSON runs one solver round-trip with retries and decodes the JSON
// payload into out. Auth failures are unrecoverable within a tick.
func (c *Client) fetchJSON(ctx context.Context, target string, out interface{}) error {
	headers := map[string]string{
		"User-Agent":      browserUserAgent,
		"Accept":          "application/json",
		"Accept-Language": "en-US,en;q=0.5",
		"Referer":         fmt.Sprintf("https://%s/@%s", c.instance, c.account),
		"Origin":          fmt.Sprintf("https://%s", c.instance),
	}

	err := retry.Do(
		func() error {
			sol, err := c.solve(ctx, target, headers)
			if err != nil {
				return err
			}
			if err := classifyStatus(sol.Status, target); err != nil {
				if IsAuthError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			payload, err := extractJSON(sol.Response)
			if err != nil {
				return &TransportError{URL: target, Err: err}
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return &TransportError{URL: target, Err: fmt.Errorf("decode payload: %w", err)}
			}
			return nil
		},
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retrying fetch after error", "url", target, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	return nil
}

func (c *Client) convertStatus(st apiStatus) (models.Post, error) {
	createdAt, err := time.Parse(time.RFC3339, st.CreatedAt)
	if err != nil {
		return models.Post{}, fmt.Errorf("bad created_at %q: %w", st.CreatedAt, err)
	}

	post := models.Post{
		ID:          st.ID,
		Content:     st.Content,
		CreatedAt:   createdAt,
		Username:    st.Account.Username,
		DisplayName: st.Account.DisplayName,
	}
	if post.Username == "" {
		post.Username = c.account
	}

	for _, m := range st.MediaAttachments {
		kind := models.MediaKind(m.Type)
		if kind != models.MediaImage && kind != models.MediaVideo && kind != models.MediaGif {
			continue
		}
		mediaURL := m.URL
		if mediaURL == "" {
			mediaURL = m.PreviewURL
		}
		if mediaURL == "" {
			continue
		}
		post.Media = append(post.Media, models.Media{URL: mediaURL, Kind: kind})
	}

	if err := c.validator.ValidateStruct(post); err != nil {
		return models.Post{}, err
	}
	return post, nil
}
