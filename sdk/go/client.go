package deliverlinesdk

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

// Client is a minimal Deliverline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// TransitionResult is the committed state after a workflow verb.
type TransitionResult struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
	HistoryID      int64  `json:"history_id"`
}

// Module represents the API module model (partial).
type Module struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
}

// UserStory represents the API story model (partial).
type UserStory struct {
	ID             string `json:"id"`
	ModuleID       string `json:"module_id"`
	ProjectID      string `json:"project_id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
}

// HistoryEntry is one row of the audit trail.
type HistoryEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Note       string `json:"note,omitempty"`
}

// PartnerStats is the partner delivery rollup.
type PartnerStats struct {
	PartnerID       string `json:"partner_id"`
	TotalProjects   int    `json:"total_projects"`
	TotalModules    int    `json:"total_modules"`
	AcceptedModules int    `json:"accepted_modules"`
	TotalStories    int    `json:"total_stories"`
	AcceptedStories int    `json:"accepted_stories"`
	RecomputedAt    string `json:"recomputed_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Deliver hands a module or story over for review.
func (c *Client) Deliver(ctx context.Context, kind, id, note, commitRef string) (TransitionResult, error) {
	body := map[string]any{"note": note, "commit_ref": commitRef}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, c.verbPath(kind, id, "deliver"), body, &resp)
	return resp, err
}

// Approve accepts a pending delivery.
func (c *Client) Approve(ctx context.Context, kind, id, note string) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, c.verbPath(kind, id, "approve"), map[string]any{"note": note}, &resp)
	return resp, err
}

// Reject sends a pending delivery back. Note is required by the API.
func (c *Client) Reject(ctx context.Context, kind, id, note string) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, c.verbPath(kind, id, "reject"), map[string]any{"note": note}, &resp)
	return resp, err
}

// GetModule fetches a module by id.
func (c *Client) GetModule(ctx context.Context, id string) (Module, error) {
	var resp Module
	err := c.do(ctx, http.MethodGet, "v0/modules/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GetStory fetches a user story by id.
func (c *Client) GetStory(ctx context.Context, id string) (UserStory, error) {
	var resp UserStory
	err := c.do(ctx, http.MethodGet, "v0/stories/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// EntityHistory returns the audit trail of one entity, oldest first.
func (c *Client) EntityHistory(ctx context.Context, kind, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("v0/history/%s/%s", url.PathEscape(kind), url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PartnerStats returns the rollup counters for a partner.
func (c *Client) PartnerStats(ctx context.Context, partnerID string) (PartnerStats, error) {
	var resp PartnerStats
	endpoint := fmt.Sprintf("v0/partners/%s/stats", url.PathEscape(partnerID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) verbPath(kind, id, verb string) string {
	base := "modules"
	if kind == "story" {
		base = "stories"
	}
	return fmt.Sprintf("v0/%s/%s/%s", base, url.PathEscape(id), verb)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
