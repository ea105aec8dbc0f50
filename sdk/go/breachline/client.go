package breachline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the breachline server
	// (e.g. "http://localhost:8443").
	BaseURL string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the breachline API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("breachline: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("breachline: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

// StartExecution starts a scenario execution and returns the pending record.
func (c *Client) StartExecution(ctx context.Context, req StartExecutionRequest) (*Execution, error) {
	var resp Execution
	if err := c.post(ctx, "/v1/executions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecutionListOptions are optional filters for ListExecutions.
type ExecutionListOptions struct {
	ScenarioID string
	Limit      int
	Offset     int
}

// ExecutionList is a page of executions with the unpaged total.
type ExecutionList struct {
	Executions []Execution `json:"executions"`
	Total      int         `json:"total"`
}

// ListExecutions returns executions newest-first.
func (c *Client) ListExecutions(ctx context.Context, opts *ExecutionListOptions) (*ExecutionList, error) {
	params := url.Values{}
	if opts != nil {
		if opts.ScenarioID != "" {
			params.Set("scenario_id", opts.ScenarioID)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	path := "/v1/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ExecutionList
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetExecution retrieves one execution.
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var resp Execution
	if err := c.get(ctx, "/v1/executions/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopExecution cancels a running execution.
func (c *Client) StopExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var resp Execution
	if err := c.post(ctx, "/v1/executions/"+id.String()+"/stop", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Results retrieves all per-task results of an execution.
func (c *Client) Results(ctx context.Context, id uuid.UUID) ([]Result, error) {
	var resp struct {
		Results []Result `json:"results"`
	}
	if err := c.get(ctx, "/v1/executions/"+id.String()+"/results", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Score retrieves the score breakdown of an execution.
func (c *Client) Score(ctx context.Context, id uuid.UUID) (*ScoreBreakdown, error) {
	var resp ScoreBreakdown
	if err := c.get(ctx, "/v1/executions/"+id.String()+"/score", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Schedules
// ---------------------------------------------------------------------------

// CreateSchedule creates a recurring execution schedule.
func (c *Client) CreateSchedule(ctx context.Context, req ScheduleRequest) (*Schedule, error) {
	var resp Schedule
	if err := c.post(ctx, "/v1/schedules", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSchedules lists all schedules.
func (c *Client) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var resp struct {
		Schedules []Schedule `json:"schedules"`
	}
	if err := c.get(ctx, "/v1/schedules", &resp); err != nil {
		return nil, err
	}
	return resp.Schedules, nil
}

// GetSchedule retrieves one schedule.
func (c *Client) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var resp Schedule
	if err := c.get(ctx, "/v1/schedules/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSchedule rewrites a schedule's definition.
func (c *Client) UpdateSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) (*Schedule, error) {
	var resp Schedule
	if err := c.put(ctx, "/v1/schedules/"+id.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSchedule removes a schedule. Returns nil on success (204 No Content).
func (c *Client) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/schedules/"+id.String(), nil)
}

// PauseSchedule suspends a schedule without losing its definition.
func (c *Client) PauseSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var resp Schedule
	if err := c.post(ctx, "/v1/schedules/"+id.String()+"/pause", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResumeSchedule reactivates a paused schedule.
func (c *Client) ResumeSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var resp Schedule
	if err := c.post(ctx, "/v1/schedules/"+id.String()+"/resume", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunSchedule fires a schedule immediately without consuming its cadence.
func (c *Client) RunSchedule(ctx context.Context, id uuid.UUID) (*ScheduleRun, error) {
	var resp ScheduleRun
	if err := c.post(ctx, "/v1/schedules/"+id.String()+"/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScheduleRuns retrieves a schedule's firing history, newest first.
func (c *Client) ScheduleRuns(ctx context.Context, id uuid.UUID, limit int) ([]ScheduleRun, error) {
	path := "/v1/schedules/" + id.String() + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []ScheduleRun `json:"runs"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ---------------------------------------------------------------------------
// Agents and catalog
// ---------------------------------------------------------------------------

// ListAgents lists registered agents, optionally filtered by status
// ("online" or "offline").
func (c *Client) ListAgents(ctx context.Context, status string) ([]Agent, error) {
	path := "/v1/agents"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent retrieves one agent by paw.
func (c *Client) GetAgent(ctx context.Context, paw string) (*Agent, error) {
	var resp Agent
	if err := c.get(ctx, "/v1/agents/"+url.PathEscape(paw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAgent removes an agent from the registry. Requires admin role.
func (c *Client) DeleteAgent(ctx context.Context, paw string) error {
	return c.doDelete(ctx, "/v1/agents/"+url.PathEscape(paw), nil)
}

// ListTechniques lists catalog techniques with optional tactic and platform
// filters.
func (c *Client) ListTechniques(ctx context.Context, tactic, platform string) ([]Technique, error) {
	params := url.Values{}
	if tactic != "" {
		params.Set("tactic", tactic)
	}
	if platform != "" {
		params.Set("platform", platform)
	}
	path := "/v1/techniques"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp struct {
		Techniques []Technique `json:"techniques"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Techniques, nil
}

// GetTechnique retrieves one catalog technique.
func (c *Client) GetTechnique(ctx context.Context, id string) (*Technique, error) {
	var resp Technique
	if err := c.get(ctx, "/v1/techniques/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListScenarios lists all scenarios.
func (c *Client) ListScenarios(ctx context.Context) ([]Scenario, error) {
	var resp struct {
		Scenarios []Scenario `json:"scenarios"`
	}
	if err := c.get(ctx, "/v1/scenarios", &resp); err != nil {
		return nil, err
	}
	return resp.Scenarios, nil
}

// GetScenario retrieves one scenario.
func (c *Client) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	var resp Scenario
	if err := c.get(ctx, "/v1/scenarios/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutScenario creates or replaces a scenario.
func (c *Client) PutScenario(ctx context.Context, s Scenario) (*Scenario, error) {
	var resp Scenario
	if err := c.put(ctx, "/v1/scenarios/"+url.PathEscape(s.ID), s, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteScenario removes a scenario.
func (c *Client) DeleteScenario(ctx context.Context, id string) error {
	return c.doDelete(ctx, "/v1/scenarios/"+url.PathEscape(id), nil)
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("breachline: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("breachline: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("breachline: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("breachline: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("breachline: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("breachline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("breachline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("breachline: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("breachline: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
