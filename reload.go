package modforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ReloadClient talks to the locally-running resource-management service to
// hot-restart resources after a rebuild. One attempt per change event, no
// retries: a failed named restart falls back to restart-all once, then gives
// up for that event.
type ReloadClient struct {
	baseURL string
	token   string
	client  *http.Client
}

type reloadResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
}

// NewReloadClient builds a client for the service at host:port. A missing
// bearer token is a hard initialization failure; reload cannot proceed
// without it.
func NewReloadClient(host string, port int, token string) (*ReloadClient, error) {
	if token == "" {
		return nil, fmt.Errorf("reload requires a bearer token (set %s_RELOAD_TOKEN)", envPrefix)
	}
	return &ReloadClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Resources lists the resources the service currently knows about.
func (c *ReloadClient) Resources(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/resources", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("list resources: status %d", res.StatusCode)
	}
	var out []string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return out, nil
}

// RestartResource asks the service to restart one named resource. On any
// failure it falls back to restarting all resources rather than leaving the
// resource stale, and reports whether either attempt succeeded.
func (c *ReloadClient) RestartResource(ctx context.Context, name string) bool {
	ok, err := c.post(ctx, "/restart?resource="+url.QueryEscape(name))
	if err != nil {
		logger.Warn("resource restart failed, falling back to restart-all", "resource", name, "error", err)
		return c.RestartAll(ctx)
	}
	if !ok {
		logger.Warn("resource restart rejected, falling back to restart-all", "resource", name)
		return c.RestartAll(ctx)
	}
	logger.Info("resource restarted", "resource", name)
	return true
}

// RestartAll asks the service to restart every resource.
func (c *ReloadClient) RestartAll(ctx context.Context) bool {
	ok, err := c.post(ctx, "/restart")
	if err != nil {
		logger.Warn("restart-all failed", "error", err)
		return false
	}
	if !ok {
		logger.Warn("restart-all rejected")
	}
	return ok
}

// post issues an authenticated POST and resolves the outcome to a boolean.
// Network-level errors surface as errors, never as panics or unhandled
// failures further up.
func (c *ReloadClient) post(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	res, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return false, fmt.Errorf("status %d", res.StatusCode)
	}
	var body reloadResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("malformed response: %w", err)
	}
	if !body.Success && body.Message != "" {
		logger.Warn("reload service reported failure", "message", body.Message)
	}
	return body.Success, nil
}
