package feelfit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://feelfit.qnclouds.com/api/v4"

const (
	pathLogin        = "/users/sign_in"
	pathPrimaryUser  = "/users/get_primary_user"
	pathUserSettings = "/user_settings/show_common_setting"
	pathGoals        = "/goals/list_goal"
	pathDeviceBinds  = "/device_binds/list_device_bind"
	pathMeasurements = "/measurements/list_measurement"
	pathListSubUsers = "/sub_users/list_sub_user"
)

// defaultQueryParams mimic the official Android app; the API rejects
// calls without them.
var defaultQueryParams = map[string]string{
	"app_revision":   "4.16.0",
	"html_version":   "14.16.0",
	"cellphone_type": "samsung SM-T510",
	"system_type":    "11_30",
	"zone":           "Europe/Rome",
	"area_code":      "IT",
	"locale":         "it",
	"app_id":         "Feelfit",
	"platform":       "android",
}

var commonHeaders = map[string]string{
	"Accept-Encoding": "gzip",
	"Connection":      "Keep-Alive",
	"User-Agent":      "okhttp/4.9.1",
}

// AuthError means an operation was attempted without a valid token, or
// the upstream rejected a login. Payload carries the raw server
// response when one was received.
type AuthError struct {
	Reason  string
	Payload string
}

func (e *AuthError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Payload)
	}
	return e.Reason
}

// RequestError wraps a transport, HTTP-status or decode failure.
// Status is 0 when the request never reached the server.
type RequestError struct {
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// ConfigFromEnv reads client config from env vars.
func ConfigFromEnv() Config {
	base := os.Getenv("FEELFIT_API_BASE")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := 15 * time.Second
	if raw := os.Getenv("FEELFIT_TIMEOUT_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return Config{BaseURL: base, Timeout: timeout}
}

// Client talks to the Feelfit cloud and runs the incremental
// fetch-and-merge engine. Token, expiry and email are mutated only by
// Login and by credential preload at startup, before any fetch cycle
// runs. The cursor map and the cached UserInfo are also touched by
// FetchAll and are guarded by mu, so cycles may run concurrently.
type Client struct {
	logger     *zap.SugaredLogger
	httpClient *http.Client
	baseURL    string

	Email        string
	Token        string
	TokenExpires time.Time // zero when unknown
	UserInfo     map[string]any

	mu      sync.Mutex
	cursors map[string]*cursor
}

func NewClient(logger *zap.SugaredLogger, email string, cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		Email:      email,
		UserInfo:   map[string]any{},
		cursors:    map[string]*cursor{},
	}
}

// requireToken guards every authenticated call; it fails before any
// network attempt.
func (c *Client) requireToken() error {
	if c.Token == "" {
		return &AuthError{Reason: "not authenticated"}
	}
	return nil
}

func (c *Client) buildURL(path string, extra map[string]string) string {
	q := url.Values{}
	for k, v := range defaultQueryParams {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	return c.baseURL + path + "?" + q.Encode()
}

// get performs an authenticated GET and unwraps the {code, data}
// envelope: when the response is an object carrying a data field, the
// data value is returned; any other shape is returned as decoded.
func (c *Client) get(ctx context.Context, path string, extra map[string]string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path, extra), nil)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Errorw("feelfit GET failed", "path", path, "error", err)
		return nil, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Errorw("feelfit GET non-200", "path", path, "status", resp.StatusCode, "body", string(body))
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body), Err: err}
	}
	if m, ok := decoded.(map[string]any); ok {
		if data, present := m["data"]; present {
			if data == nil {
				return map[string]any{}, nil
			}
			return data, nil
		}
	}
	return decoded, nil
}

// getObject is get for endpoints whose data payload is an object.
func (c *Client) getObject(ctx context.Context, path string, extra map[string]string) (map[string]any, error) {
	v, err := c.get(ctx, path, extra)
	if err != nil {
		return nil, err
	}
	return asObject(v), nil
}

// GetPrimaryUser fetches the account's primary user record.
func (c *Client) GetPrimaryUser(ctx context.Context) (map[string]any, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.getObject(ctx, pathPrimaryUser, nil)
}

// GetUserSettings fetches the common user settings.
func (c *Client) GetUserSettings(ctx context.Context) (map[string]any, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.getObject(ctx, pathUserSettings, nil)
}

// ListGoals fetches the goal list for one profile.
func (c *Client) ListGoals(ctx context.Context, userID string) (map[string]any, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.getObject(ctx, pathGoals, map[string]string{"user_id": userID})
}

// ListDeviceBinds fetches the account-wide device bindings and models.
func (c *Client) ListDeviceBinds(ctx context.Context) (map[string]any, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.getObject(ctx, pathDeviceBinds, nil)
}

// ListMeasurements fetches measurements for one profile, resuming from
// the given cursor. Zero values mean "fetch from the beginning".
func (c *Client) ListMeasurements(ctx context.Context, userID string, lastUpdatedAt, lastMeasurementID int64) (map[string]any, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	extra := map[string]string{
		"user_id":             userID,
		"last_updated_at":     strconv.FormatInt(lastUpdatedAt, 10),
		"last_measurement_id": strconv.FormatInt(lastMeasurementID, 10),
	}
	return c.getObject(ctx, pathMeasurements, extra)
}

// Cursor returns the stored cursor values for a profile id (0, 0 when
// none was recorded yet).
func (c *Client) Cursor(userID string) (lastUpdatedAt, lastMeasurementID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[userID]
	if !ok {
		return 0, 0
	}
	return cur.LastUpdatedAt, cur.LastMeasurementID
}

func (c *Client) cursorFor(userID string) cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.cursors[userID]; ok {
		return *cur
	}
	return cursor{}
}

// advanceCursor applies the monotonic-advance policy: each field is
// stored only when the server reported a non-zero value, and is never
// cleared afterwards.
func (c *Client) advanceCursor(userID string, lastUpdatedAt, lastMeasurementID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[userID]
	if !ok {
		cur = &cursor{}
		c.cursors[userID] = cur
	}
	if lastUpdatedAt != 0 {
		cur.LastUpdatedAt = lastUpdatedAt
	}
	if lastMeasurementID != 0 {
		cur.LastMeasurementID = lastMeasurementID
	}
}
