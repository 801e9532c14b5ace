package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// MaxJSONBodyBytes caps decoded JSON responses.
	MaxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	// MaxArtifactBytes caps downloaded artifacts.
	MaxArtifactBytes int64 = 512 << 20 // 512 MiB

	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root, e.g. http://localhost:8007 (required).
	BaseURL string

	// Timeout bounds each HTTP exchange. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RateLimit caps outgoing requests per second. Zero disables pacing.
	RateLimit float64

	// RateBurst is the limiter burst. Values below 1 are treated as 1.
	RateBurst int

	// HTTPClient replaces the default client (tests).
	HTTPClient *http.Client

	// Logger receives debug logs for each request. Nil disables logging.
	Logger *zap.Logger
}

// Client talks to one portal backend. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("portal: invalid base URL %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{base: base, http: hc, limiter: limiter, logger: logger}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// DownloadLocation returns the default artifact location for a job id.
func (c *Client) DownloadLocation(jobID string) string {
	return c.base.String() + "/download/" + url.PathEscape(jobID)
}

// Register creates an account and returns the backend's confirmation message.
func (c *Client) Register(ctx context.Context, creds Credentials) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, "Register", http.MethodPost, "/register", "", creds, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Login exchanges credentials for a bearer token and admin flag.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	var out LoginResult
	if err := c.doJSON(ctx, "Login", http.MethodPost, "/login", "", creds, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Token) == "" {
		return nil, &APIError{Op: "Login", Method: http.MethodPost, Path: "/login", Err: ErrInvalidResponse, Detail: "Invalid response from server."}
	}
	return &out, nil
}

// ListUsers returns the registered users, sorted by name. Requires an admin
// token.
func (c *Client) ListUsers(ctx context.Context, token string) ([]User, error) {
	var out struct {
		Users map[string]struct {
			IsAdmin bool `json:"is_admin"`
		} `json:"users"`
	}
	if err := c.doJSON(ctx, "ListUsers", http.MethodGet, "/all-users", token, nil, &out); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(out.Users))
	for name, rec := range out.Users {
		users = append(users, User{Username: name, IsAdmin: rec.IsAdmin})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Upload submits one artifact. Exactly one HTTP request is made.
func (c *Client) Upload(ctx context.Context, token string, req UploadRequest) (*UploadResult, error) {
	const op, path = "Upload", "/upload"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	name := req.FileName
	if strings.TrimSpace(name) == "" {
		name = "upload.bin"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, Err: ErrBadRequest, Cause: err}
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, Err: ErrBadRequest, Cause: err}
	}
	if req.Username != "" {
		if err := mw.WriteField("username", req.Username); err != nil {
			return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, Err: ErrBadRequest, Cause: err}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, Err: ErrBadRequest, Cause: err}
	}

	resp, err := c.send(ctx, op, http.MethodPost, c.base.String()+path, token, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out UploadResult
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Err: ErrInvalidResponse, Cause: err}
	}
	if out.TaskID == "" && out.DownloadURL == "" {
		return nil, &APIError{Op: op, Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Err: ErrInvalidResponse,
			Detail: "Upload successful, but no task id or model reference in response."}
	}
	return &out, nil
}

// TaskStatus reads the current status of a job.
func (c *Client) TaskStatus(ctx context.Context, token, jobID string) (*TaskStatus, error) {
	path := "/task-status/" + url.PathEscape(jobID)
	var out TaskStatus
	if err := c.doJSON(ctx, "TaskStatus", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Status) == "" {
		return nil, &APIError{Op: "TaskStatus", Method: http.MethodGet, Path: path, Err: ErrInvalidResponse, Detail: "status missing from response"}
	}
	return &out, nil
}

// Download fetches an artifact. location is either a path relative to the
// backend root or an absolute URL; the bearer token is only sent to the
// backend's own host.
func (c *Client) Download(ctx context.Context, token, location string) (*Download, error) {
	const op = "Download"

	target, err := c.resolve(location)
	if err != nil {
		return nil, &APIError{Op: op, Method: http.MethodGet, Path: location, Err: ErrBadRequest, Cause: err}
	}
	if target.Host != c.base.Host {
		token = ""
	}

	resp, err := c.send(ctx, op, http.MethodGet, target.String(), token, "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactBytes+1))
	if err != nil {
		return nil, &APIError{Op: op, Method: http.MethodGet, Path: target.Path, StatusCode: resp.StatusCode, Err: ErrUnavailable, Cause: err}
	}
	if int64(len(data)) > MaxArtifactBytes {
		return nil, &APIError{Op: op, Method: http.MethodGet, Path: target.Path, StatusCode: resp.StatusCode, Err: ErrInvalidResponse,
			Detail: fmt.Sprintf("artifact exceeds %d bytes", MaxArtifactBytes)}
	}
	return &Download{Data: data, FileName: dispositionFileName(resp.Header.Get("Content-Disposition"))}, nil
}

// dispositionFileName extracts a bare file name from a Content-Disposition
// header. Directory parts are dropped; unusable names yield "".
func dispositionFileName(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(params["filename"])
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

func (c *Client) resolve(location string) (*url.URL, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("empty artifact location")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return nil, fmt.Errorf("unsupported artifact scheme %q", ref.Scheme)
		}
		return ref, nil
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

// doJSON sends an optional JSON body and decodes a JSON response into out.
func (c *Client) doJSON(ctx context.Context, op, method, path, token string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &APIError{Op: op, Method: method, Path: path, Err: ErrBadRequest, Cause: err}
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, op, method, c.base.String()+path, token, contentType, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := decodeJSON(resp.Body, out); err != nil {
		return &APIError{Op: op, Method: method, Path: path, StatusCode: resp.StatusCode, Err: ErrInvalidResponse, Cause: err}
	}
	return nil
}

// send performs one request and returns the response only for 2xx statuses.
// Non-2xx responses are drained, closed and returned as *APIError.
func (c *Client) send(ctx context.Context, op, method, target, token, contentType string, body io.Reader) (*http.Response, error) {
	u, _ := url.Parse(target)
	path := target
	if u != nil {
		path = u.Path
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Op: op, Method: method, Path: path, Err: ErrUnavailable, Cause: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &APIError{Op: op, Method: method, Path: path, Err: ErrBadRequest, Cause: err}
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Backend request failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, &APIError{Op: op, Method: method, Path: path, Err: ErrUnavailable, Cause: err}
	}

	c.logger.Debug("Backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxJSONBodyBytes))
	return nil, &APIError{
		Op:         op,
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Detail:     extractDetail(raw),
		Err:        classifyStatus(resp.StatusCode),
	}
}

func decodeJSON(r io.Reader, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, io.LimitReader(r, MaxJSONBodyBytes))
		return err
	}
	dec := json.NewDecoder(io.LimitReader(r, MaxJSONBodyBytes))
	return dec.Decode(out)
}

// extractDetail pulls the human-readable message out of an error body.
func extractDetail(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}

	switch d := body.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case []any:
		msgs := make([]string, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok && s != "" {
					msgs = append(msgs, s)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return body.Error
}
