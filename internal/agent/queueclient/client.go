// Package queueclient talks to the print queue service on behalf of an agent.
package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

const basePath = "/api/v1/print-jobs"

// ErrJobNotFound is returned when the queue service does not know the job.
// It is the queue's own sentinel so callers can match either name.
var ErrJobNotFound = domain.ErrJobNotFound

// StatusError is a non-2xx answer from the queue service
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("queue service %s returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// Config holds queue client settings
type Config struct {
	BaseURL string
	Token   string
	AgentID string
	Timeout time.Duration
}

// Client is a JSON client for the print queue HTTP API
type Client struct {
	baseURL    string
	token      string
	agentID    string
	httpClient *http.Client
}

// New creates a queue client
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + basePath,
		token:      cfg.Token,
		agentID:    cfg.AgentID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type claimRequest struct {
	AgentID string `json:"agent_id"`
}

type claimResponse struct {
	Job *domain.Job `json:"job"`
}

type resetResponse struct {
	Reset []domain.Job `json:"reset"`
}

type failRequest struct {
	Error string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ResetStuck returns jobs stuck in printing longer than threshold to pending
func (c *Client) ResetStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error) {
	path := "/reset-stuck?threshold=" + strconv.Itoa(int(threshold.Seconds()))

	var resp resetResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reset, nil
}

// Claim takes the next pending job, or returns nil when the queue is empty
func (c *Client) Claim(ctx context.Context) (*domain.Job, error) {
	var resp claimResponse
	if err := c.do(ctx, http.MethodPost, "/claim", claimRequest{AgentID: c.agentID}, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// Complete marks a claimed job as printed
func (c *Client) Complete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, "/complete/"+strconv.FormatInt(id, 10), nil, nil)
}

// Fail marks a claimed job as failed with the given reason
func (c *Client) Fail(ctx context.Context, id int64, message string) error {
	return c.do(ctx, http.MethodPut, "/fail/"+strconv.FormatInt(id, 10), failRequest{Error: message}, nil)
}

// Heartbeat refreshes the claim on a job in progress
func (c *Client) Heartbeat(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, "/heartbeat/"+strconv.FormatInt(id, 10), nil, nil)
}

// Header fetches the company header configured on the queue service
func (c *Client) Header(ctx context.Context) (*domain.CompanyHeaderSnapshot, error) {
	var header domain.CompanyHeaderSnapshot
	if err := c.do(ctx, http.MethodGet, "/header", nil, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("queue service %s failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrJobNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
