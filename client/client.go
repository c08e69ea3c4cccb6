// Package client is the JSON REST client for the task backend.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

const (
	// SessionCookie carries the session token.
	SessionCookie = "authToken"
	// TimezoneHeader is the client's offset from UTC in minutes, as
	// returned by JavaScript's Date.getTimezoneOffset.
	TimezoneHeader = "Timezone-Offset"

	maxErrorBody = 64 * 1024
)

// Client talks to the backend REST API.
type Client struct {
	BaseURL string
	Token   string
	// TimezoneOffset in minutes west of UTC.
	TimezoneOffset int
	HTTP           *http.Client
}

// New creates a Client for baseURL authenticated with token.
func New(baseURL, token string) *Client {
	_, offset := time.Now().Zone()
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Token:          token,
		TimezoneOffset: -offset / 60,
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ListViews(ctx context.Context) ([]domain.View, error) {
	var views []domain.View
	if err := c.do(ctx, "list views", http.MethodGet, "/overview/views/", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *Client) SupportedViews(ctx context.Context) ([]domain.SupportedView, error) {
	var views []domain.SupportedView
	if err := c.do(ctx, "list supported views", http.MethodGet, "/overview/supported_views/", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *Client) AddView(ctx context.Context, req domain.AddViewRequest) (string, error) {
	var resp domain.CreatedResponse
	if err := c.doKeyed(ctx, "add view", http.MethodPost, "/overview/views/", req.IdempotencyKey, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ReorderView moves a view to the 0-based position idOrdering.
func (c *Client) ReorderView(ctx context.Context, viewID string, idOrdering int) error {
	return c.do(ctx, "reorder view", http.MethodPatch, "/overview/views/"+url.PathEscape(viewID)+"/",
		domain.ReorderViewRequest{IDOrdering: idOrdering}, nil)
}

// ReorderViews replaces the complete view order.
func (c *Client) ReorderViews(ctx context.Context, orderedIDs []string) error {
	return c.do(ctx, "reorder views", http.MethodPatch, "/overview/views/",
		domain.ReorderViewsRequest{OrderedViewIDs: orderedIDs}, nil)
}

func (c *Client) RemoveView(ctx context.Context, viewID string) error {
	return c.do(ctx, "remove view", http.MethodDelete, "/overview/views/"+url.PathEscape(viewID)+"/", nil, nil)
}

func (c *Client) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	var folders []domain.Folder
	if err := c.do(ctx, "list folders", http.MethodGet, "/sections/v2/", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *Client) CreateFolder(ctx context.Context, req domain.CreateFolderRequest) (string, error) {
	var resp domain.CreatedResponse
	if err := c.doKeyed(ctx, "create folder", http.MethodPost, "/sections/create/", req.IdempotencyKey, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ModifyFolder(ctx context.Context, folderID string, delta domain.FolderModify) error {
	return c.do(ctx, "modify folder", http.MethodPatch, "/sections/modify/"+url.PathEscape(folderID)+"/", delta, nil)
}

func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	return c.do(ctx, "delete folder", http.MethodDelete, "/sections/delete/"+url.PathEscape(folderID)+"/", nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (string, error) {
	var resp domain.CreateTaskResponse
	if err := c.doKeyed(ctx, "create task", http.MethodPost, "/tasks/create/gt_task/", req.IdempotencyKey, req, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

func (c *Client) ModifyTask(ctx context.Context, taskID string, delta domain.TaskModify) error {
	return c.do(ctx, "modify task", http.MethodPatch, "/tasks/modify/"+url.PathEscape(taskID)+"/", delta, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	return c.doKeyed(ctx, op, method, path, "", body, out)
}

func (c *Client) doKeyed(ctx context.Context, op, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(domain.IdempotencyKeyHeader, idempotencyKey)
	}
	req.Header.Set(TimezoneHeader, strconv.Itoa(c.TimezoneOffset))
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.Token})
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.ValidationError{Op: op, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := sonic.Unmarshal(data, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
