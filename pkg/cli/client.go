package cli

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

	"querydesk/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
	// Job is set when the server reported the failure as a failed job.
	Job *Job
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// Client talks to the querydesk HTTP API.
type Client struct {
	BaseURL    string
	APIKey     string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL. A bearer token takes precedence
// over an API key when both are set.
func NewClient(baseURL, apiKey, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Job mirrors the server's job handle.
type Job struct {
	ID            string          `json:"id"`
	State         domain.JobState `json:"state"`
	Queue         string          `json:"queue,omitempty"`
	Worker        *string         `json:"worker,omitempty"`
	Error         *string         `json:"error,omitempty"`
	QueryResultID *string         `json:"query_result_id,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// Result mirrors a stored query result.
type Result struct {
	ID           string            `json:"id"`
	QueryHash    string            `json:"query_hash"`
	Query        string            `json:"query"`
	Data         domain.ResultData `json:"data"`
	DataSourceID string            `json:"data_source_id"`
	Runtime      float64           `json:"runtime"`
	RetrievedAt  time.Time         `json:"retrieved_at"`
}

// Outcome is what an execute call returns: a cached result or a job.
type Outcome struct {
	Result *Result `json:"query_result,omitempty"`
	Job    *Job    `json:"job,omitempty"`
}

// DataSource mirrors a data source listing entry.
type DataSource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	ViewOnly  bool   `json:"view_only"`
	Paused    bool   `json:"paused"`
	QueueName string `json:"queue_name"`
}

// ExecuteRequest is the body of an ad-hoc execution.
type ExecuteRequest struct {
	DataSourceID string         `json:"data_source_id"`
	Query        string         `json:"query"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	MaxAge       int            `json:"max_age"`
}

// Do sends a request to path under /api. body, when non-nil, is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.BaseURL + "/api" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.APIKey != "":
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// checkError turns a non-2xx response into an *APIError. It consumes the
// body on failure.
func checkError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{HTTPStatus: resp.StatusCode, Code: resp.StatusCode}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Job     *Job   `json:"job"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		if body.Code != 0 {
			apiErr.Code = body.Code
		}
		apiErr.Message = body.Message
		apiErr.Job = body.Job
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := checkError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Execute submits an ad-hoc query.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*Outcome, error) {
	var out Outcome
	if err := c.doJSON(ctx, http.MethodPost, "/query_results", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteSaved executes a saved query with parameter values.
func (c *Client) ExecuteSaved(ctx context.Context, queryID string, params map[string]any, maxAge int) (*Outcome, error) {
	body := map[string]any{"parameters": params, "max_age": maxAge}
	var out Outcome
	if err := c.doJSON(ctx, http.MethodPost, "/queries/"+url.PathEscape(queryID)+"/results", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh forces a saved query onto its scheduled queue.
func (c *Client) Refresh(ctx context.Context, queryID string) (*Job, error) {
	var out struct {
		Job Job `json:"job"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/queries/"+url.PathEscape(queryID)+"/refresh", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// Job fetches a job handle.
func (c *Client) Job(ctx context.Context, id string) (*Job, error) {
	var out struct {
		Job Job `json:"job"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// Result fetches a stored result by id.
func (c *Client) Result(ctx context.Context, id string) (*Result, error) {
	var out struct {
		Result Result `json:"query_result"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/query_results/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// LatestResult fetches the latest result of a saved query.
func (c *Client) LatestResult(ctx context.Context, queryID string) (*Result, error) {
	var out struct {
		Result Result `json:"query_result"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/queries/"+url.PathEscape(queryID)+"/results", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// Download fetches a saved query's latest result in a file format
// ("csv" or "xlsx") and copies it to w.
func (c *Client) Download(ctx context.Context, queryID, format string, w io.Writer) error {
	resp, err := c.Do(ctx, http.MethodGet, "/queries/"+url.PathEscape(queryID)+"/results."+format, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := checkError(resp); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}

// QueueStatus reports outstanding work. jobID may be empty.
func (c *Client) QueueStatus(ctx context.Context, jobID, queue, dataSourceID string) (*domain.QueueStatus, error) {
	path := "/queue_status"
	if jobID != "" {
		path += "/" + url.PathEscape(jobID)
	}
	q := url.Values{}
	if queue != "" {
		q.Set("queue", queue)
	}
	if dataSourceID != "" {
		q.Set("data_source", dataSourceID)
	}
	var out domain.QueueStatus
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DataSources lists the data sources visible to the caller.
func (c *Client) DataSources(ctx context.Context) ([]DataSource, error) {
	var out []DataSource
	if err := c.doJSON(ctx, http.MethodGet, "/data_sources", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
