// Package hubclient is the HTTP client for the project-manager server.
// Push channels (live updates, build progress, log tailing) live in
// internal/channel; everything request/response shaped lives here.
package hubclient

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

	"github.com/google/uuid"

	"github.com/espkit/esphub/internal/api"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const defaultUnaryTimeout = 10 * time.Second

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

// RequestError is a non-success response from the server, carrying the
// server-provided detail string for verbatim display.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if message != "" {
		return message
	}
	if code != "" {
		return code
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) ListProjects(ctx context.Context) ([]api.Project, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/projects", nil, nil)
	if err != nil {
		return nil, err
	}
	var env api.ProjectsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode projects envelope: %w", err)
	}
	return env.Projects, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]api.Device, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/devices", nil, nil)
	if err != nil {
		return nil, err
	}
	var env api.DevicesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode devices envelope: %w", err)
	}
	return env.Devices, nil
}

// Snapshot fetches projects and devices in one call, equivalent to one
// live-updates push. Used for the authoritative refresh after a build or
// deploy completes.
func (c *Client) Snapshot(ctx context.Context) (api.Snapshot, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return api.Snapshot{}, err
	}
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return api.Snapshot{}, err
	}
	return api.Snapshot{Projects: projects, Devices: devices}, nil
}

type CreateProjectRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Template    string   `json:"template,omitempty"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (api.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return api.Project{}, fmt.Errorf("project name is required")
	}
	body, err := c.request(ctx, http.MethodPost, "/api/projects", nil, req)
	if err != nil {
		return api.Project{}, err
	}
	var project api.Project
	if err := json.Unmarshal(body, &project); err != nil {
		return api.Project{}, fmt.Errorf("decode project: %w", err)
	}
	return project, nil
}

func (c *Client) DeleteProject(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	_, err := c.request(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(name), nil, nil)
	return err
}

type buildRequest struct {
	RequestRef string `json:"request_ref"`
}

func (c *Client) TriggerBuild(ctx context.Context, project string) (api.BuildAck, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return api.BuildAck{}, fmt.Errorf("project name is required")
	}
	req := buildRequest{RequestRef: uuid.NewString()}
	body, err := c.request(ctx, http.MethodPost, "/api/build/"+url.PathEscape(project), nil, req)
	if err != nil {
		return api.BuildAck{}, err
	}
	var ack api.BuildAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return api.BuildAck{}, fmt.Errorf("decode build ack: %w", err)
	}
	return ack, nil
}

type deployRequest struct {
	RequestRef string `json:"request_ref"`
	Port       string `json:"port"`
}

func (c *Client) TriggerDeploy(ctx context.Context, project, port string) (api.DeployAck, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return api.DeployAck{}, fmt.Errorf("project name is required")
	}
	if strings.TrimSpace(port) == "" {
		return api.DeployAck{}, fmt.Errorf("device port is required")
	}
	req := deployRequest{RequestRef: uuid.NewString(), Port: port}
	body, err := c.request(ctx, http.MethodPost, "/api/deploy/"+url.PathEscape(project), nil, req)
	if err != nil {
		return api.DeployAck{}, err
	}
	var ack api.DeployAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return api.DeployAck{}, fmt.Errorf("decode deploy ack: %w", err)
	}
	return ack, nil
}

func (c *Client) LoadFile(ctx context.Context, project, path string) (string, error) {
	if project == "" || path == "" {
		return "", fmt.Errorf("project and path are required")
	}
	query := url.Values{}
	query.Set("path", path)
	body, err := c.request(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(project)+"/files", query, nil)
	if err != nil {
		return "", err
	}
	var env api.FileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode file envelope: %w", err)
	}
	return env.Content, nil
}

func (c *Client) SaveFile(ctx context.Context, project, path, content string) error {
	if project == "" || path == "" {
		return fmt.Errorf("project and path are required")
	}
	env := api.FileEnvelope{Path: path, Content: content}
	_, err := c.request(ctx, http.MethodPut, "/api/projects/"+url.PathEscape(project)+"/files", nil, env)
	return err
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
