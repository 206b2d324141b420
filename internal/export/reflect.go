// Package export pushes committed summaries to a Reflect daily note. The
// sink is advisory: the summary row is already durable before an export is
// attempted, and failures are never retried or propagated.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akarpov/earshot/internal/storage"
)

const (
	defaultBaseURL  = "https://reflect.app/api"
	defaultTimeout  = 15 * time.Second
	defaultTimezone = "America/Los_Angeles"
)

// Client talks to the Reflect daily-notes API.
type Client struct {
	baseURL    string
	graphID    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Reflect client for the given graph, authenticated by
// a bearer token.
func NewClient(graphID, token string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		graphID: graphID,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(graphID, token, baseURL string) *Client {
	c := NewClient(graphID, token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// dailyNoteRequest is the JSON body for PUT /graphs/{id}/daily-notes.
type dailyNoteRequest struct {
	Date          string `json:"date"`
	Text          string `json:"text"`
	TransformType string `json:"transform_type"`
	ListName      string `json:"list_name"`
}

// Export appends the formatted summary to today's daily note under the
// "Updates" list, rendered in the user's local timezone.
func (c *Client) Export(ctx context.Context, sum storage.Summary, user storage.User) error {
	loc := userLocation(user)
	local := time.Now().In(loc)

	body, err := json.Marshal(dailyNoteRequest{
		Date:          local.Format("2006-01-02"),
		Text:          FormatSummary(sum, local),
		TransformType: "list-append",
		ListName:      "Updates",
	})
	if err != nil {
		return fmt.Errorf("marshaling daily note: %w", err)
	}

	url := fmt.Sprintf("%s/graphs/%s/daily-notes", c.baseURL, c.graphID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating daily note request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daily note request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("daily note: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FormatSummary renders a summary as a markdown list entry: a timestamped
// headline with its tag, the bullet points, and an indented fact-checker
// sub-list when corrections exist.
func FormatSummary(sum storage.Summary, localTime time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "### %s - **%s**", localTime.Format("03:04 PM"), sum.Headline)
	if sum.Tag != "" {
		fmt.Fprintf(&b, " #%s", sum.Tag)
	}
	b.WriteString("\n\n")

	for i, point := range sum.BulletPoints {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s", point)
	}

	if len(sum.FactChecks) > 0 {
		b.WriteString("\n    - ❗**Fact Checker**")
		for _, fact := range sum.FactChecks {
			fmt.Fprintf(&b, "\n      - %s", fact)
		}
	}

	return b.String()
}

func userLocation(user storage.User) *time.Location {
	tz := user.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
