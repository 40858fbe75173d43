package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// solverMaxTimeoutMS is the page-load budget handed to FlareSolverr.
const solverMaxTimeoutMS = 15000

type solverRequest struct {
	Cmd        string            `json:"cmd"`
	URL        string            `json:"url"`
	MaxTimeout int               `json:"maxTimeout"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type solverSolution struct {
	URL      string `json:"url"`
	Status   int    `json:"status"`
	Response string `json:"response"`
}

type solverResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Solution solverSolution `json:"solution"`
}

// solve fetches target through the FlareSolverr bypass proxy and returns the
// upstream status plus raw response body.
func (c *Client) solve(ctx context.Context, target string, headers map[string]string) (*solverSolution, error) {
	payload, err := json.Marshal(solverRequest{
		Cmd:        "request.get",
		URL:        target,
		MaxTimeout: solverMaxTimeoutMS,
		Headers:    headers,
	})
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.solverURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("solver returned HTTP %d", resp.StatusCode)}
	}

	var solverResp solverResponse
	if err := json.Unmarshal(body, &solverResp); err != nil {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("decode solver response: %w", err)}
	}
	if solverResp.Status != "ok" {
		return nil, &TransportError{URL: target, Err: fmt.Errorf("solver status %q: %s", solverResp.Status, solverResp.Message)}
	}

	return &solverResp.Solution, nil
}

// classifyStatus maps the upstream HTTP status relayed by the solver onto the
// fetch error taxonomy. A nil return means the payload is usable.
func classifyStatus(status int, target string) error {
	switch {
	case status == 0 || (status >= 200 && status < 300):
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{URL: target, Status: status}
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{URL: target}
	default:
		return &TransportError{URL: target, Err: fmt.Errorf("HTTP %d", status)}
	}
}

// extractJSON pulls the JSON payload out of a solver response body. The
// solver renders API responses through a browser, so the JSON is often
// wrapped in an HTML document's <pre> block.
func extractJSON(body string) ([]byte, error) {
	trimmed := strings.TrimSpace(body)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse solver HTML: %w", err)
	}
	pre := doc.Find("pre").First()
	if pre.Length() == 0 {
		return nil, fmt.Errorf("no JSON payload found in solver response")
	}
	text := strings.TrimSpace(pre.Text())
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("<pre> content is not valid JSON")
	}
	return []byte(text), nil
}
