// Package client provides a Go SDK for the Warp Engine HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// Client calls the Warp Engine HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://127.0.0.1:8787"
	APIKey     string       // optional; set for X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://127.0.0.1:8787").
// APIKey is optional; when set, requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Command submits a command for asynchronous execution and returns the
// accepted job.
func (c *Client) Command(ctx context.Context, command string, params map[string]string) (*models.CommandResponse, error) {
	var out models.CommandResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/command",
		models.CommandRequest{Command: command, Params: params}, &out)
	return &out, err
}

// GetJob returns a job by id, logs included.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var out models.Job
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &out)
	return &out, err
}

// ListJobs returns jobs, newest first. status filters when non-empty;
// limit 0 uses the server default.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error) {
	path := "/api/jobs"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Job
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// JobLogs returns the log lines recorded for a job.
func (c *Client) JobLogs(ctx context.Context, jobID string) ([]string, error) {
	var out struct {
		Logs []string `json:"logs"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/logs", nil, &out)
	return out.Logs, err
}

// FollowJobLogs streams the job's log lines: stored lines are replayed
// first, then lines appended while the job runs arrive incrementally.
// fn is called once per line. Returns the job's terminal status, or an
// error if the stream fails before the job finishes.
func (c *Client) FollowJobLogs(ctx context.Context, jobID string, fn func(line string)) (string, error) {
	path := "/api/jobs/" + url.PathEscape(jobID) + "/logs?follow=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api GET %s: status %d", path, resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type   string `json:"type"`
			Line   string `json:"line"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "job_log":
			fn(ev.Line)
		case "job_done":
			return ev.Status, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", io.ErrUnexpectedEOF
}

// CancelJob requests cancellation and reports whether it took effect.
func (c *Client) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/cancel", map[string]string{}, &out)
	return out.Cancelled, err
}

// ChainRecord returns the persisted chain execution record for a job.
func (c *Client) ChainRecord(ctx context.Context, jobID string) (*models.ChainRecord, error) {
	var out models.ChainRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/chain", nil, &out)
	return &out, err
}

// RegisterAgent registers an agent directly, without the build chain.
func (c *Client) RegisterAgent(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	var out models.RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/agents", req, &out)
	return &out, err
}

// ListAgents returns all registered agents ordered by slug.
func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/api/agents", nil, &out)
	return out, err
}

// GetAgent returns one agent by slug.
func (c *Client) GetAgent(ctx context.Context, slug string) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(slug), nil, &out)
	return &out, err
}

// DeleteAgent removes an agent by slug.
func (c *Client) DeleteAgent(ctx context.Context, slug string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(slug), nil, nil)
}

// AgentStages returns the agent's creation chain, root first.
func (c *Client) AgentStages(ctx context.Context, slug string) ([]models.Stage, error) {
	var out []models.Stage
	err := c.doJSON(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(slug)+"/stages", nil, &out)
	return out, err
}

// Status returns the daemon status summary.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out)
	return &out, err
}
