// Package client is a small HTTP client for the cracking backend, used by
// crackctl.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cracknum-backend/pkg/api"

	"github.com/go-resty/resty/v2"
)

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(5 * time.Minute),
	}
}

func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) execute(req *resty.Request, method, endpoint string) (*resty.Response, error) {
	res, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error calling %s %s: %w", method, endpoint, err)
	}
	if !res.IsSuccess() {
		return nil, &APIError{StatusCode: res.StatusCode(), Message: strings.TrimSpace(res.String())}
	}
	return res, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (api.TokenResponse, error) {
	var out api.TokenResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(api.LoginRequest{Username: username, Password: password}).
		SetResult(&out)
	if _, err := c.execute(req, http.MethodPost, "/token"); err != nil {
		return api.TokenResponse{}, err
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	var out api.UploadResponse
	req := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&out)
	if _, err := c.execute(req, http.MethodPost, "/upload"); err != nil {
		return "", err
	}
	return out.TaskId, nil
}

func (c *Client) Crack(ctx context.Context, taskId, salt string) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("task_id", taskId).
		SetBody(api.CrackRequest{Salt: salt})
	_, err := c.execute(req, http.MethodPost, "/crack/{task_id}")
	return err
}

func (c *Client) Status(ctx context.Context, taskId string) (api.TaskStatus, error) {
	var out api.TaskStatus
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("task_id", taskId).
		SetResult(&out)
	if _, err := c.execute(req, http.MethodGet, "/status/{task_id}"); err != nil {
		return api.TaskStatus{}, err
	}
	return out, nil
}

func (c *Client) Logs(ctx context.Context, taskId string, cursor int) (api.LogChunk, error) {
	var out api.LogChunk
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("task_id", taskId).
		SetQueryParam("cursor", strconv.Itoa(cursor)).
		SetResult(&out)
	if _, err := c.execute(req, http.MethodGet, "/logs/{task_id}"); err != nil {
		return api.LogChunk{}, err
	}
	return out, nil
}

// Download streams the result CSV of a task into w.
func (c *Client) Download(ctx context.Context, taskId string, w io.Writer) (int64, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("task_id", taskId).
		SetDoNotParseResponse(true).
		Get("/download/{task_id}")
	if err != nil {
		return 0, fmt.Errorf("error downloading result: %w", err)
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return 0, &APIError{StatusCode: res.StatusCode(), Message: strings.TrimSpace(string(msg))}
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("error writing result: %w", err)
	}
	return n, nil
}

func (c *Client) DownloadFile(ctx context.Context, taskId, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("error creating %s: %w", path, err)
	}

	n, err := c.Download(ctx, taskId, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

func isTerminal(status string) bool {
	return status == "finished" || status == "failed"
}

// Watch polls the task until it reaches a terminal status. New log lines and
// every observed status are passed to the callbacks as they arrive.
func (c *Client) Watch(ctx context.Context, taskId string, interval time.Duration, onLines func([]string), onStatus func(api.TaskStatus)) (api.TaskStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cursor := 0
	for {
		chunk, err := c.Logs(ctx, taskId, cursor)
		if err != nil {
			return api.TaskStatus{}, err
		}
		if len(chunk.Lines) > 0 && onLines != nil {
			onLines(chunk.Lines)
		}
		cursor = chunk.Cursor

		status, err := c.Status(ctx, taskId)
		if err != nil {
			return api.TaskStatus{}, err
		}
		if onStatus != nil {
			onStatus(status)
		}

		if isTerminal(status.Status) {
			// Flush lines written between the last log read and the final status.
			if chunk, err := c.Logs(ctx, taskId, cursor); err == nil && len(chunk.Lines) > 0 && onLines != nil {
				onLines(chunk.Lines)
			}
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
