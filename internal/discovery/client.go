// ABOUTME: Discovery Engine REST transport: hosts, headers, timeouts and request logging.
// ABOUTME: Failed calls surface as *APIError carrying the status and server message.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DefaultTimeout applies to every request.
const DefaultTimeout = 30 * time.Second

// DefaultAssistant is the assistant every app is created with.
const DefaultAssistant = "default_assistant"

// GlobalLocation is the location without a regional host prefix.
const GlobalLocation = "global"

var (
	// ErrNoToken is returned before any request when the caller has no token.
	ErrNoToken = errors.New("missing access token")

	// ErrBadResourceName is returned when a resource name cannot be parsed.
	ErrBadResourceName = errors.New("could not parse resource name")
)

// APIError is a non-2xx response.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// DefaultHost returns the API origin for a location.
func DefaultHost(location string) string {
	if location == GlobalLocation || location == "" {
		return "https://discoveryengine.googleapis.com"
	}
	return "https://" + location + "-discoveryengine.googleapis.com"
}

// Options configures a Client. Zero values select production defaults.
type Options struct {
	Host    func(location string) string
	Timeout time.Duration
}

// Client calls the Discovery Engine REST API.
type Client struct {
	http   *resty.Client
	host   func(string) string
	logger *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	if opts.Host == nil {
		opts.Host = DefaultHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json"),
		host:   opts.Host,
		logger: slog.Default().With("component", "discovery"),
	}
}

func (c *Client) origin(location string) string {
	return strings.TrimSuffix(c.host(location), "/")
}

// call performs one request and returns the response body.
func (c *Client) call(ctx context.Context, op, token, userProject, method, url string, query map[string]string, body any) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoToken)
	}

	reqID := uuid.NewString()
	logger := c.logger.With("request_id", reqID, "op", op)

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Goog-User-Project", userProject).
		SetHeader("X-Request-Id", reqID)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	logger.Info("discovery request", "method", method, "url", url)
	start := time.Now()
	resp, err := req.Execute(method, url)
	if err != nil {
		logger.Error("discovery request failed", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("discovery response", "status", resp.StatusCode(), "duration", time.Since(start))

	if resp.IsError() {
		apiErr := &APIError{
			Op:      op,
			Status:  resp.StatusCode(),
			Message: gjson.GetBytes(resp.Body(), "error.message").String(),
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(apiErr.Status)
		}
		logger.Warn("discovery request rejected", "status", apiErr.Status, "message", apiErr.Message)
		return nil, apiErr
	}
	return resp.Body(), nil
}

// ParseLocation returns the segment following "locations" in a resource name.
func ParseLocation(name string) (string, error) {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		if p == "locations" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: no location in %q", ErrBadResourceName, name)
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
