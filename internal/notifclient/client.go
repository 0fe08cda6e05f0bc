package notifclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cargolane/notify-core/internal/notification"
	"resty.dev/v3"
)

// ErrNoAuthToken is returned when no bearer credential is available.
// It is a precondition failure: no network attempt is made.
var ErrNoAuthToken = errors.New("no authentication token")

// TokenSource supplies the bearer credential presented on every call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource holding a fixed credential.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// APIError is a non-2xx response from the notification backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notification API returned %d: %s", e.StatusCode, e.Message)
}

// Client is a thin typed wrapper over the notification REST API.
// It performs no caching; every call is a fresh round trip.
type Client struct {
	http   *resty.Client
	tokens TokenSource
}

type ClientOption func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second)

	c := &Client{
		http:   httpClient,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// bearer resolves the credential, failing before any network attempt when absent.
func (c *Client) bearer() (string, error) {
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return "", ErrNoAuthToken
	}
	return token, nil
}

// List fetches a page of notifications with the given filters.
func (c *Client) List(ctx context.Context, params notification.ListParams) (*notification.ListResponse, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.ListResponse
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result)

	if params.IsRead != nil {
		req.SetQueryParam("is_read", strconv.FormatBool(*params.IsRead))
	}
	if params.Type != "" {
		req.SetQueryParam("type", params.Type)
	}
	if params.Priority != "" {
		req.SetQueryParam("priority", params.Priority)
	}
	if params.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(params.Offset))
	}

	res, err := req.Get("/notifications")
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

// Get fetches one notification by id.
func (c *Client) Get(ctx context.Context, id string) (*notification.Notification, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.Notification
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Get("/notifications/" + id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

// MarkRead marks one notification as read and returns the server-confirmed entity.
func (c *Client) MarkRead(ctx context.Context, id string) (*notification.Notification, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.Notification
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Patch("/notifications/" + id + "/read")
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification %s as read: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

// MarkAllRead marks every notification of the authenticated user as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	token, err := c.bearer()
	if err != nil {
		return err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Post("/notifications/mark-all-read")
	if err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	if !res.IsSuccess() {
		return apiError(res)
	}

	return nil
}

// Delete removes one notification. A 404 means the target is already gone,
// which is the desired end state and not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	token, err := c.bearer()
	if err != nil {
		return err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Delete("/notifications/" + id)
	if err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	if !res.IsSuccess() && res.StatusCode() != 404 {
		return apiError(res)
	}

	return nil
}

// Stats fetches the authoritative notification summary.
func (c *Client) Stats(ctx context.Context) (*notification.Stats, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.Stats
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Get("/notifications/stats/summary")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification stats: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

// Preferences fetches the user's notification preferences.
func (c *Client) Preferences(ctx context.Context) (*notification.Preferences, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.Preferences
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Get("/notifications/preferences")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification preferences: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

// UpdatePreferences replaces the user's notification preferences.
func (c *Client) UpdatePreferences(ctx context.Context, prefs notification.Preferences) (*notification.Preferences, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	var result notification.Preferences
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(prefs).
		SetResult(&result).
		Put("/notifications/preferences")
	if err != nil {
		return nil, fmt.Errorf("failed to update notification preferences: %w", err)
	}
	if !res.IsSuccess() {
		return nil, apiError(res)
	}

	return &result, nil
}

func apiError(res *resty.Response) error {
	message := strings.TrimSpace(res.String())
	if message == "" {
		message = res.Status()
	}
	return &APIError{
		StatusCode: res.StatusCode(),
		Message:    message,
	}
}
