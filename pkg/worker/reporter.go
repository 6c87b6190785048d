// Package worker lets deployment workers report progress back to the pado API.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	callbackPath     = "/worker/callback"
)

var (
	// ErrUnauthorized indicates the API rejected the worker token.
	ErrUnauthorized = errors.New("worker report unauthorized")
	// ErrInvalidArgument indicates the API rejected the report payload.
	ErrInvalidArgument = errors.New("worker report invalid argument")
	// ErrNotFound indicates the API does not know the project or deployment.
	ErrNotFound = errors.New("worker report project or deployment not found")
	// ErrRejected indicates the transition was illegal or the deployment is
	// no longer the project's latest.
	ErrRejected = errors.New("worker report rejected")
)

// Status is a deployment status a worker may report.
type Status string

const (
	StatusDeploying   Status = "DEPLOYING"
	StatusDeployed    Status = "DEPLOYED"
	StatusTerminating Status = "TERMINATING"
	StatusTerminated  Status = "TERMINATED"
	StatusFailed      Status = "FAILED"
)

func (s Status) valid() bool {
	switch s {
	case StatusDeploying, StatusDeployed, StatusTerminating, StatusTerminated, StatusFailed:
		return true
	}
	return false
}

// Report is a status update for a consumed deployment command.
type Report struct {
	DeploymentID string `json:"deploymentId"`
	ProjectID    string `json:"projectId"`
	Status       Status `json:"status"`
	Message      string `json:"message,omitempty"`
}

// Reporter posts reports to the API callback endpoint.
type Reporter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewReporter creates a reporter for the API at baseURL authenticating with
// the shared worker token.
func NewReporter(baseURL, workerToken string, client *http.Client) (*Reporter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("worker reporter base url required")
	}
	token := strings.TrimSpace(workerToken)
	if token == "" {
		return nil, errors.New("worker reporter token required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Reporter{baseURL: trimmed, token: token, client: client}, nil
}

// Report sends one status update.
func (r *Reporter) Report(ctx context.Context, report Report) error {
	if r == nil {
		return errors.New("worker reporter not initialised")
	}
	if strings.TrimSpace(report.DeploymentID) == "" || strings.TrimSpace(report.ProjectID) == "" {
		return fmt.Errorf("%w: deploymentId and projectId are required", ErrInvalidArgument)
	}
	if !report.Status.valid() {
		return fmt.Errorf("%w: status %q cannot be reported by a worker", ErrInvalidArgument, report.Status)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal worker report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+callbackPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build worker report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Token", r.token)
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send worker report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(buf, &payload) == nil && payload.Error != "" {
		summary = payload.Error
	}
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrRejected, summary)
	default:
		return fmt.Errorf("worker report failed: %s", summary)
	}
}
