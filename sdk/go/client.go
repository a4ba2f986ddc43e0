package pledgelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pledgeline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Promise represents the API promise model.
type Promise struct {
	ID                    string `json:"id"`
	Address               string `json:"address"`
	Message               string `json:"message"`
	Category              string `json:"category"`
	Difficulty            string `json:"difficulty"`
	Deadline              string `json:"deadline"`
	Status                string `json:"status"`
	Proof                 string `json:"proof,omitempty"`
	AdminAdjustedProgress *int   `json:"admin_adjusted_progress,omitempty"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at"`
}

// User represents a reputation profile.
type User struct {
	Address           string `json:"address"`
	Reputation        int    `json:"reputation"`
	CompletedPromises int    `json:"completed_promises"`
	FailedPromises    int    `json:"failed_promises"`
	TotalPromises     int    `json:"total_promises"`
	Streak            int    `json:"streak"`
	Level             int    `json:"level"`
	JoinedAt          string `json:"joined_at"`
	LastActive        string `json:"last_active"`
}

// DeleteRequest represents a moderation queue entry.
type DeleteRequest struct {
	ID               string  `json:"id"`
	PromiseID        string  `json:"promise_id"`
	RequesterAddress string  `json:"requester_address"`
	Status           string  `json:"status"`
	RequestedAt      string  `json:"requested_at"`
	ProcessedBy      *string `json:"processed_by,omitempty"`
	ProcessedAt      *string `json:"processed_at,omitempty"`
}

// GlobalStats aggregates registry-wide figures.
type GlobalStats struct {
	TotalUsers        int     `json:"total_users"`
	TotalPromises     int     `json:"total_promises"`
	ActivePromises    int     `json:"active_promises"`
	CompletedPromises int     `json:"completed_promises"`
	FailedPromises    int     `json:"failed_promises"`
	CompletionRate    float64 `json:"completion_rate"`
	AverageReputation float64 `json:"average_reputation"`
	TopPerformer      string  `json:"top_performer,omitempty"`
	HighestStreak     int     `json:"highest_streak"`
}

// PaginatedPromises wraps list responses with cursors.
type PaginatedPromises struct {
	Items      []Promise `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePromise publishes a promise for the authenticated wallet.
func (c *Client) CreatePromise(ctx context.Context, message, category, difficulty, deadline string) (Promise, error) {
	body := map[string]any{
		"message":    message,
		"category":   category,
		"difficulty": difficulty,
		"deadline":   deadline,
	}
	var resp Promise
	err := c.do(ctx, http.MethodPost, "v0/promises", body, &resp)
	return resp, err
}

// GetPromise fetches a promise by id.
func (c *Client) GetPromise(ctx context.Context, id string) (Promise, error) {
	var resp Promise
	err := c.do(ctx, http.MethodGet, "v0/promises/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Promises returns one page of promises.
func (c *Client) Promises(ctx context.Context, limit int, cursor string) (PaginatedPromises, error) {
	endpoint := "v0/promises"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedPromises
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Resolve marks a promise completed or failed.
func (c *Client) Resolve(ctx context.Context, id, status, proof string) (Promise, error) {
	body := map[string]any{
		"status": status,
		"proof":  proof,
	}
	var resp Promise
	endpoint := fmt.Sprintf("v0/promises/%s/resolve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestDelete opens a delete request for an owned promise.
func (c *Client) RequestDelete(ctx context.Context, id string) (DeleteRequest, error) {
	var resp DeleteRequest
	endpoint := fmt.Sprintf("v0/promises/%s/delete-request", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Me returns the caller's reputation profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// UserStats returns the profile for an address.
func (c *Client) UserStats(ctx context.Context, address string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v0/users/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// Stats returns registry-wide statistics.
func (c *Client) Stats(ctx context.Context) (GlobalStats, error) {
	var resp GlobalStats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
