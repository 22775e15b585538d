// Package agentd is a Go client for the agentd REST API.
package agentd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Synchronous runs may take up to the server run budget, so it is generous.
const DefaultHTTPTimeout = 90 * time.Second

// OwnerHeader carries the caller identity on every request.
const OwnerHeader = "X-Owner-ID"

// Client wraps the HTTP interactions with agentd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	owner      string
}

// Agent mirrors the agent resource returned by the server.
type Agent struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	AccountID string    `json:"account_id"`
	PublicKey string    `json:"public_key"`
	Balance   string    `json:"balance"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateAgentRequest is the payload of CreateAgent.
type CreateAgentRequest struct {
	Name string `json:"name,omitempty"`
	Goal string `json:"goal"`
}

// SwapResult describes the on-chain part of a run.
type SwapResult struct {
	Success         bool           `json:"success"`
	TransactionHash string         `json:"transaction_hash,omitempty"`
	AmountIn        string         `json:"amount_in,omitempty"`
	Estimate        map[string]any `json:"estimate,omitempty"`
	Submitted       []string       `json:"submitted,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// RunResult is the outcome of a synchronous run.
type RunResult struct {
	Success bool        `json:"success"`
	TaskIDs []string    `json:"task_ids"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Stage   string      `json:"stage"`
	Swap    *SwapResult `json:"swap,omitempty"`
}

// Task is one entry of an agent's task history.
type Task struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Type         string         `json:"task_type"`
	Description  string         `json:"description"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Stats summarises an agent's task history.
type Stats struct {
	Total        int        `json:"total"`
	Pending      int        `json:"pending"`
	Running      int        `json:"running"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// TaskQuery narrows ListTasks. Zero values are omitted.
type TaskQuery struct {
	Limit       int
	Statuses    []string
	OldestFirst bool
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client acting on behalf of owner. When httpClient is
// nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL, owner string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if strings.TrimSpace(owner) == "" {
		return nil, errors.New("agentd: owner is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, owner: owner}, nil
}

// CreateAgent provisions a new agent and its NEAR account.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodPost, "/api/v1/agents", nil, req, &agent)
	return agent, err
}

// ListAgents returns the caller's agents, newest first.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var body struct {
		Agents []Agent `json:"agents"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/agents", nil, nil, &body)
	return body.Agents, err
}

// GetAgent fetches one agent.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodGet, agentPath(id), nil, nil, &agent)
	return agent, err
}

// SetStatus switches an agent between active and paused.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodPatch, agentPath(id, "status"), nil, map[string]string{"status": status}, &agent)
	return agent, err
}

// DeleteAgent removes an agent and clears its history.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, agentPath(id), nil, nil, nil)
}

// RefreshBalance re-reads the on-chain balance.
func (c *Client) RefreshBalance(ctx context.Context, id string) (Agent, error) {
	var agent Agent
	err := c.send(ctx, http.MethodPost, agentPath(id, "balance"), nil, nil, &agent)
	return agent, err
}

// Execute runs the agent synchronously. A failed run is not an error; inspect
// RunResult.Success. A busy agent yields an *APIError with status 409.
func (c *Client) Execute(ctx context.Context, id string) (RunResult, error) {
	var result RunResult
	err := c.send(ctx, http.MethodPost, agentPath(id, "execute"), nil, nil, &result)
	return result, err
}

// EnqueueRun schedules a run on the server's queue.
func (c *Client) EnqueueRun(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodPost, agentPath(id, "runs"), nil, nil, nil)
}

// ListTasks returns the agent's task history.
func (c *Client) ListTasks(ctx context.Context, id string, query TaskQuery) ([]Task, error) {
	values := url.Values{}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if len(query.Statuses) > 0 {
		values.Set("status", strings.Join(query.Statuses, ","))
	}
	if query.OldestFirst {
		values.Set("order", "asc")
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.send(ctx, http.MethodGet, agentPath(id, "tasks"), values, nil, &body)
	return body.Tasks, err
}

// ClearTasks deletes the agent's task history.
func (c *Client) ClearTasks(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, agentPath(id, "tasks"), nil, nil, nil)
}

// Stats returns task history counters.
func (c *Client) Stats(ctx context.Context, id string) (Stats, error) {
	var stats Stats
	err := c.send(ctx, http.MethodGet, agentPath(id, "stats"), nil, nil, &stats)
	return stats, err
}

func agentPath(id string, rest ...string) string {
	parts := append([]string{"/api/v1/agents", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(OwnerHeader, c.owner)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		// 409 from /execute still carries a RunResult.
		if out != nil && len(data) > 0 {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
