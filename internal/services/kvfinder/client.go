package kvfinder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kvweb/internal/services"
)

const defaultRequestTimeout = 30 * time.Second

// Job statuses reported by the service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Output carries the result artifacts of a completed job.
type Output struct {
	// CavitiesPDB is the detected cavities as PDB text.
	CavitiesPDB string `json:"pdb_kv"`
	// Report is the per-cavity characterization as a TOML document.
	Report string `json:"report"`
	// Log is the detection software's run log.
	Log string `json:"log"`
}

// Snapshot is one observation of a job on the service.
type Snapshot struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Output *Output `json:"output"`
}

// Completed reports whether the snapshot carries final results.
func (s *Snapshot) Completed() bool {
	return s != nil && s.Status == StatusCompleted
}

// HTTPDoer describes the HTTP client used to reach the service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one KVFinder-web deployment.
type Client struct {
	baseURL string
	client  HTTPDoer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// New constructs a client for the service rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Submit posts a prepared job payload and returns the service's view of the
// job. Resubmitting content the service already knows is not an error; the
// snapshot then reflects the existing job's state.
func (c *Client) Submit(ctx context.Context, payload []byte) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create", bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "kvfinder", "submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "submit")
}

// Fetch retrieves the current state of a job by id. Unknown or expired ids
// yield ErrNotFound.
func (c *Client) Fetch(ctx context.Context, id string) (*Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "kvfinder", "fetch", "job id required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "kvfinder", "fetch", "build request", err)
	}
	return c.do(req, "fetch")
}

// Cancel asks the service to drop a job. Deployments without the endpoint
// answer 404 or 405; both are treated as success since cancellation degrades
// to a local stop.
func (c *Client) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return services.Wrap(services.ErrValidation, "kvfinder", "cancel", "job id required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/"+id, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "kvfinder", "cancel", "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "kvfinder", "cancel", "send request", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusMethodNotAllowed:
		return nil
	default:
		return classifyStatus(resp.StatusCode, "cancel", nil)
	}
}

// Ping probes the service root for liveness.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "kvfinder", "ping", "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "kvfinder", "ping", "send request", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return classifyStatus(resp.StatusCode, "ping", nil)
	}
	return nil
}

func (c *Client) do(req *http.Request, operation string) (*Snapshot, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "kvfinder", operation, "send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "kvfinder", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(resp.StatusCode, operation, body)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, services.Wrap(services.ErrDecode, "kvfinder", operation, "decode response", err)
	}
	if snapshot.ID == "" {
		return nil, services.Wrap(services.ErrDecode, "kvfinder", operation, "response carries no job id", nil)
	}
	return &snapshot, nil
}

func classifyStatus(code int, operation string, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &failure); err == nil && failure.Error != "" {
		detail = failure.Error
	}
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}

	switch {
	case code == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "kvfinder", operation,
			"job is unknown to the service or has expired", nil)
	case code == http.StatusRequestEntityTooLarge:
		return services.Wrap(services.ErrRejected, "kvfinder", operation,
			"structure exceeds the service's payload limit", nil)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "kvfinder", operation,
			fmt.Sprintf("service answered %d: %s", code, detail), nil)
	default:
		return services.Wrap(services.ErrRejected, "kvfinder", operation,
			fmt.Sprintf("service answered %d: %s", code, detail), nil)
	}
}
