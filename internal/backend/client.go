// Package backend is the dashboard's API client. Every action is a JSON POST
// of {"action","params","token"} to <base>/api/<action>.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dashsync/internal/logging"
)

const (
	ActionFetchDashboard    = "fetchAllDashboardData"
	ActionDeploymentVersion = "getDeploymentVersion"
	ActionValidateSession   = "validateSession"
	ActionSignOut           = "signOut"
	ActionAppVersion        = "getAppVersion"
)

// APIError is a non-2xx answer from the backend or relay.
type APIError struct {
	Status int
}

func (e *APIError) Error() string { return fmt.Sprintf("API error: %d", e.Status) }

// RemoteError is a {"success":false,"error":...} answer.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type Client struct {
	base string
	http *http.Client
	log  *zap.SugaredLogger

	mu    sync.RWMutex
	token string
}

// New returns a client for base. httpClient carries the transport, usually
// the cache agent.
func New(base string, httpClient *http.Client, logger *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: httpClient,
		log:  logging.OrNop(logger).With("component", "backend"),
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Token  string `json:"token"`
}

// Call posts action and decodes the answer into out, which may be nil.
func (c *Client) Call(ctx context.Context, action string, params any, out any) error {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(request{Action: action, Params: params, Token: c.Token()})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", action, err)
	}
	if msg, failed := remoteFailure(raw); failed {
		return &RemoteError{Action: action, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	return nil
}

// remoteFailure detects a top-level {"success":false} envelope.
func remoteFailure(raw []byte) (string, bool) {
	var env struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &env) != nil || env.Success == nil || *env.Success {
		return "", false
	}
	if env.Error == "" {
		return "request failed", true
	}
	return env.Error, true
}
