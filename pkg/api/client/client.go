package client

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

// Client provides typed access to the pado API for interactive tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

func projectPath(projectID string, rest ...string) string {
	parts := []string{"/projects", url.PathEscape(projectID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

func withPaging(path string, limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// CatalogEntry is one allowed resource/service pairing.
type CatalogEntry struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ResourceType string `json:"resourceType"`
	ServiceType  string `json:"serviceType"`
}

// Catalog lists the component pairings the API accepts.
func (c *Client) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := c.do(ctx, http.MethodGet, "/components", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Project describes a deployable graph.
type Project struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	DeploymentStatus string    `json:"deploymentStatus"`
	RunningStatus    string    `json:"runningStatus"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Component is a node of the project graph.
type Component struct {
	ID               string `json:"id"`
	ParentID         string `json:"parentId,omitempty"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Subtype          string `json:"subtype"`
	DeploymentStatus string `json:"deploymentStatus"`
	RunningStatus    string `json:"runningStatus"`
}

// Connection is a directed edge between two components.
type Connection struct {
	ID              string `json:"id"`
	FromComponentID string `json:"fromComponentId"`
	ToComponentID   string `json:"toComponentId"`
	Type            string `json:"type"`
	FromPort        int    `json:"fromPort"`
	ToPort          int    `json:"toPort"`
}

// ComponentNode is a component with its children and outgoing connections.
type ComponentNode struct {
	Component
	Port        int             `json:"port,omitempty"`
	SettingJSON string          `json:"settingJson,omitempty"`
	Connections []Connection    `json:"connections"`
	Children    []ComponentNode `json:"children"`
}

// ProjectDetail is a project with its component tree.
type ProjectDetail struct {
	Project
	Components []ComponentNode `json:"components"`
}

// CreateProjectInput captures the payload for project creation.
type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject provisions an empty project.
func (c *Client) CreateProject(ctx context.Context, input CreateProjectInput) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, "/projects", input, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// GetProject fetches a project with its component tree.
func (c *Client) GetProject(ctx context.Context, projectID string) (ProjectDetail, error) {
	var detail ProjectDetail
	if err := c.do(ctx, http.MethodGet, projectPath(projectID), nil, &detail); err != nil {
		return ProjectDetail{}, err
	}
	return detail, nil
}

// DeleteProject removes a project and its graph.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID), nil, nil)
}

// AddComponentInput places a service, optionally on an existing resource.
type AddComponentInput struct {
	ResourceType string `json:"resourceType"`
	ServiceType  string `json:"serviceType"`
	ParentID     string `json:"parentId,omitempty"`
}

// AddComponentResult reports the resource and service a placement produced.
type AddComponentResult struct {
	Resource      Component `json:"resource"`
	Service       Component `json:"service"`
	ResourceIsNew bool      `json:"resourceCreated"`
	ResourcePort  int       `json:"resourcePort"`
	ServicePort   int       `json:"servicePort"`
}

// AddComponent creates a service component and, when needed, its resource.
func (c *Client) AddComponent(ctx context.Context, projectID string, input AddComponentInput) (AddComponentResult, error) {
	var result AddComponentResult
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "components"), input, &result); err != nil {
		return AddComponentResult{}, err
	}
	return result, nil
}

// DeleteComponent removes a component with its subtree.
func (c *Client) DeleteComponent(ctx context.Context, projectID, componentID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "components", componentID), nil, nil)
}

// Setting is a stored configuration version of a component.
type Setting struct {
	ComponentID string `json:"componentId"`
	Version     int64  `json:"version"`
	Port        int    `json:"port"`
	SettingJSON string `json:"settingJson"`
}

// UpdateSetting appends a setting version to a component.
func (c *Client) UpdateSetting(ctx context.Context, projectID, componentID string, port int, settingJSON string) (Setting, error) {
	body := map[string]any{"port": port, "settingJson": settingJSON}
	var setting Setting
	if err := c.do(ctx, http.MethodPut, projectPath(projectID, "components", componentID, "setting"), body, &setting); err != nil {
		return Setting{}, err
	}
	return setting, nil
}

// Connect links source to target with the given connection type.
func (c *Client) Connect(ctx context.Context, projectID, sourceID, targetID, connType string) (Connection, error) {
	body := map[string]string{"targetComponentId": targetID}
	if connType != "" {
		body["connectionType"] = connType
	}
	var conn Connection
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "components", sourceID, "connections"), body, &conn); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// Disconnect removes a connection owned by source.
func (c *Client) Disconnect(ctx context.Context, projectID, sourceID, connectionID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "components", sourceID, "connections", connectionID), nil, nil)
}

// DeployResult acknowledges a start or stop request.
type DeployResult struct {
	RequestTime  time.Time `json:"requestTime"`
	DeploymentID string    `json:"deploymentId"`
	Message      string    `json:"message"`
}

// StartDeployment queues a deployment of the current graph.
func (c *Client) StartDeployment(ctx context.Context, projectID string) (DeployResult, error) {
	return c.deployAction(ctx, projectID, "start")
}

// StopDeployment asks workers to tear the latest deployment down.
func (c *Client) StopDeployment(ctx context.Context, projectID string) (DeployResult, error) {
	return c.deployAction(ctx, projectID, "stop")
}

func (c *Client) deployAction(ctx context.Context, projectID, action string) (DeployResult, error) {
	var result DeployResult
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "deploy", action), nil, &result); err != nil {
		return DeployResult{}, err
	}
	return result, nil
}

// Deployment is an immutable snapshot handed to workers.
type Deployment struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deploymentId"`
	ProjectID    string          `json:"projectId"`
	CreatedBy    string          `json:"createdBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Components   json.RawMessage `json:"components"`
}

// ListDeployments fetches the project's snapshots, newest first.
func (c *Client) ListDeployments(ctx context.Context, projectID string, limit int) ([]Deployment, error) {
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, withPaging(projectPath(projectID, "deployments"), limit, 0), nil, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// LatestDeployment fetches the most recent snapshot.
func (c *Client) LatestDeployment(ctx context.Context, projectID string) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "deployments", "latest"), nil, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// Event is an entry of a project's lifecycle log.
type Event struct {
	ID           int64     `json:"id"`
	ProjectID    string    `json:"projectId"`
	DeploymentID string    `json:"deploymentId,omitempty"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListEvents returns recent lifecycle events, newest first.
func (c *Client) ListEvents(ctx context.Context, projectID string, limit, offset int) ([]Event, error) {
	var events []Event
	if err := c.do(ctx, http.MethodGet, withPaging(projectPath(projectID, "events"), limit, offset), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
