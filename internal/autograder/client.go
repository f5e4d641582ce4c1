package autograder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Job statuses reported by /results
const (
	ResultQueued   = "queued"
	ResultStarted  = "started"
	ResultDeferred = "deferred"
	ResultFinished = "finished"
	ResultFailed   = "failed"
)

// Dispatch priorities
const (
	PriorityDefault = "default"
	PriorityHigh    = "high"
)

const serverVersion = "v3"

// BatchRequest is the body of a grade batch call
type BatchRequest struct {
	SubmIDs       []string `json:"subm_ids"`
	Assignment    string   `json:"assignment"`
	AccessToken   string   `json:"access_token"`
	Priority      string   `json:"priority"`
	ServerVersion string   `json:"ok-server-version"`
}

type batchResponse struct {
	Jobs []string `json:"jobs"`
}

// Result is the state of one autograder job. A nil *Result in a Results
// map means the autograder no longer knows the job.
type Result struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

// APIError is a non-2xx answer from the autograder
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("autograder returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the autograder HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. A zero timeout leaves requests
// bounded only by the caller's context.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GradeBatch submits backups for grading and returns the autograder job ids
// in request order
func (c *Client) GradeBatch(ctx context.Context, req BatchRequest) ([]string, error) {
	req.ServerVersion = serverVersion

	var resp batchResponse
	if err := c.post(ctx, "/api/ok/v3/grade/batch", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Jobs) != len(req.SubmIDs) {
		return nil, fmt.Errorf("autograder returned %d jobs for %d submissions", len(resp.Jobs), len(req.SubmIDs))
	}

	c.logger.Debug("Batch sent to autograder",
		slog.Int("batch_size", len(req.SubmIDs)),
		slog.String("priority", req.Priority),
	)
	return resp.Jobs, nil
}

// Results fetches the state of the given autograder jobs in one call
func (c *Client) Results(ctx context.Context, jobIDs []string) (map[string]*Result, error) {
	results := make(map[string]*Result, len(jobIDs))
	if err := c.post(ctx, "/results", jobIDs, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("autograder request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read autograder response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode autograder response: %w", err)
	}
	return nil
}

// errorMessage pulls a message out of an error body, falling back to the
// raw text
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "no message"
	}
	return msg
}
