package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/models"
	"github.com/ternarybob/menulens/internal/services/auth"
)

const (
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second)
	DefaultRateLimit = 10

	// DefaultMaxBodyBytes caps every response body read
	DefaultMaxBodyBytes = 8 << 20

	// uploadField is the multipart field the backend reads the image from
	uploadField = "menu"
)

// HeaderSource supplies the Authorization header of every request
type HeaderSource interface {
	AuthorizationHeader(ctx context.Context) (http.Header, error)
}

// Client talks to the menu processing backend
type Client struct {
	baseURL     *url.URL
	paths       common.APIConfig
	credentials HeaderSource
	httpClient  *http.Client
	logger      arbor.ILogger
	limiter     *rate.Limiter
	maxBody     int64
	now         func() time.Time
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithMaxBodyBytes caps response bodies
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewClient creates a backend client from the [api] section
func NewClient(config common.APIConfig, credentials HeaderSource, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", config.BaseURL)
	}

	c := &Client{
		baseURL:     base,
		paths:       config,
		credentials: credentials,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, DefaultTimeout),
		},
		logger:  arbor.NewLogger(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Submit uploads the menu image and returns the job id assigned by the backend
func (c *Client) Submit(ctx context.Context, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(uploadField, path.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.paths.UploadPath, &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	var resp struct {
		MenuID string `json:"menu_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if resp.MenuID == "" {
		return "", fmt.Errorf("upload response carried no menu_id")
	}

	c.logger.Info().Str("job_id", resp.MenuID).Str("file", filename).Msg("Menu submitted")
	return resp.MenuID, nil
}

// FetchProgress returns the raw progress snapshot of jobID
func (c *Client) FetchProgress(ctx context.Context, jobID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.jobPath(c.paths.ProgressPath, jobID), nil, "")
}

// FetchResult returns the persisted, normalized result of jobID
func (c *Client) FetchResult(ctx context.Context, jobID string) (*models.ResultSet, error) {
	body, err := c.do(ctx, http.MethodGet, c.jobPath(c.paths.ResultPath, jobID), nil, "")
	if err != nil {
		return nil, err
	}

	var raw rawMenu
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", jobID, err)
	}
	if raw.ID == "" {
		raw.ID = jobID
	}
	return toResultSet(raw, c.now()), nil
}

// ListRecent returns up to limit recent jobs of the current identity, most recent first.
// The backend answers with either a bare list or {"menus": [...]}.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]models.RecentJob, error) {
	body, err := c.do(ctx, http.MethodGet, c.paths.RecentPath, nil, "")
	if err != nil {
		return nil, err
	}

	var menus []rawMenu
	if err := json.Unmarshal(body, &menus); err != nil {
		var wrapped struct {
			Menus []rawMenu `json:"menus"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode recent jobs: %w", err)
		}
		menus = wrapped.Menus
	}

	jobs := make([]models.RecentJob, 0, len(menus))
	for _, m := range menus {
		if m.ID == "" {
			continue
		}
		jobs = append(jobs, toRecentJob(m))
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

// SocketURL returns the push channel endpoint of jobID, http(s) mapped to ws(s)
func (c *Client) SocketURL(jobID string) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.jobPath(c.paths.SocketPath, jobID)
	return u.String(), nil
}

func (c *Client) jobPath(prefix, jobID string) string {
	return strings.TrimRight(prefix, "/") + "/" + url.PathEscape(jobID)
}

// do performs one authorized request and returns the body of a 2xx response
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	header, err := c.credentials.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := *c.baseURL
	reqURL.Path = strings.TrimRight(reqURL.Path, "/") + endpoint

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", common.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug().Str("method", method).Str("endpoint", endpoint).Msg("Menu API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", endpoint, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   endpoint,
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", auth.ErrUnauthorized, statusErr)
		}
		return nil, statusErr
	}

	return data, nil
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
