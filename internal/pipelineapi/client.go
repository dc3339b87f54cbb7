package pipelineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

// Sentinel errors for pipeline API failures.
var (
	ErrUnreachable     = errors.New("pipeline api unreachable")
	ErrTimeout         = errors.New("pipeline api timeout")
	ErrBadResponse     = errors.New("pipeline api returned an unexpected response")
	ErrNotFound        = errors.New("pipeline api resource not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Client fetches authoritative snapshots and job history from the pipeline API.
type Client interface {
	// FetchJobStatus returns the current job, or nil when the pipeline is idle.
	FetchJobStatus(ctx context.Context) (*models.JobStatus, error)
	FetchHealth(ctx context.Context) (*models.HealthResponse, error)
	RecentJobs(ctx context.Context, count int) ([]models.JobHistoryItem, error)
	JobDetail(ctx context.Context, jobID string) (*models.JobDetail, error)
	JobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

// HTTPClient implements Client over the pipeline's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new pipeline API client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FetchJobStatus(ctx context.Context) (*models.JobStatus, error) {
	var status *models.JobStatus
	found, err := c.getJSON(ctx, "/api/status", &status)
	if err != nil || !found {
		return nil, err
	}
	return status, nil
}

func (c *HTTPClient) FetchHealth(ctx context.Context) (*models.HealthResponse, error) {
	var health models.HealthResponse
	found, err := c.getJSON(ctx, "/api/health", &health)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: empty health response", ErrBadResponse)
	}
	return &health, nil
}

func (c *HTTPClient) RecentJobs(ctx context.Context, count int) ([]models.JobHistoryItem, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidArgument, count)
	}

	params := url.Values{"count": {strconv.Itoa(count)}}
	jobs := []models.JobHistoryItem{}
	if _, err := c.getJSON(ctx, "/api/jobs/recent?"+params.Encode(), &jobs); err != nil {
		return nil, err
	}
	if jobs == nil {
		return []models.JobHistoryItem{}, nil
	}
	return jobs, nil
}

func (c *HTTPClient) JobDetail(ctx context.Context, jobID string) (*models.JobDetail, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id cannot be empty", ErrInvalidArgument)
	}

	var detail models.JobDetail
	found, err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(jobID), &detail)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return &detail, nil
}

func (c *HTTPClient) JobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id cannot be empty", ErrInvalidArgument)
	}

	events := []models.JobEvent{}
	if _, err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(jobID)+"/events", &events); err != nil {
		return nil, err
	}
	if events == nil {
		return []models.JobEvent{}, nil
	}
	return events, nil
}

// getJSON decodes the body of a GET into out. It reports false, with no
// error, for 204 and for a literal null body.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) (bool, error) {
	u := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: %s: status %d", ErrBadResponse, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, classifyError(err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return false, nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%w: decoding %s: %v", ErrBadResponse, path, err)
	}
	return true, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
