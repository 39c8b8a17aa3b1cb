// Package api is the JSON-over-HTTP transport to the discover backend.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/logging"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

type Options struct {
	BaseURL string
	// HTTPClient overrides the client built from Jar and TLS.
	HTTPClient *http.Client
	Jar        http.CookieJar
	TLS        *tls.Config
	// Timeout bounds each request whose context has no deadline.
	Timeout    time.Duration
	UserAgent  string
	Mode       constants.AuthMode
	// SecretHeader carries the shared secret in SecretAuth mode.
	SecretHeader string
	// SecretQuery, when set, also sends the shared secret as this query
	// parameter.
	SecretQuery string
	Logger      *zap.Logger
}

// Client sends requests to one backend. It holds the anti-forgery token of
// the current session and, in SecretAuth mode, the shared secret.
type Client struct {
	base         *url.URL
	http         *http.Client
	timeout      time.Duration
	userAgent    string
	mode         constants.AuthMode
	secretHeader string
	secretQuery  string
	logger       *zap.Logger

	mu     sync.RWMutex
	csrf   string
	secret string
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api.New: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api.New: unsupported scheme %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		jar := opts.Jar
		if jar == nil {
			jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
			if err != nil {
				return nil, fmt.Errorf("api.New: %w", err)
			}
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.TLS != nil {
			transport.TLSClientConfig = opts.TLS
		}
		hc = &http.Client{Jar: jar, Transport: transport}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultTimeout
	}
	mode := opts.Mode
	if mode == "" {
		mode = constants.SessionAuth
	}
	header := opts.SecretHeader
	if header == "" {
		header = constants.DefaultSecretHeader
	}

	return &Client{
		base:         base,
		http:         hc,
		timeout:      timeout,
		userAgent:    opts.UserAgent,
		mode:         mode,
		secretHeader: header,
		secretQuery:  opts.SecretQuery,
		logger:       logging.OrNop(opts.Logger).Named("api"),
	}, nil
}

func (c *Client) Mode() constants.AuthMode { return c.mode }

// BaseURL is the backend root every path is resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

func (c *Client) SetCSRFToken(token string) {
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

func (c *Client) CSRFToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrf
}

func (c *Client) SetSecret(secret string) {
	c.mu.Lock()
	c.secret = secret
	c.mu.Unlock()
}

func (c *Client) Secret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// Do sends in as the JSON body (when non-nil) and decodes a 2xx response
// into out (when non-nil). Failures are *Error values.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	u := c.base.JoinPath(path)

	c.mu.RLock()
	csrf, secret := c.csrf, c.secret
	c.mu.RUnlock()

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if c.mode == constants.SecretAuth && c.secretQuery != "" && secret != "" {
		q.Set(c.secretQuery, secret)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return transportError("encode request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return transportError("build request", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(constants.RequestIDHeader, reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if !idempotent(method) && csrf != "" {
		req.Header.Set(constants.CSRFHeader, csrf)
	}
	if c.mode == constants.SecretAuth && secret != "" {
		req.Header.Set(c.secretHeader, secret)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.String("request_id", reqID), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transportError(method+" "+path, ctxErr)
		}
		return transportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError("read response", err)
	}

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(resp.StatusCode, errorField(raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return transportError("decode response", err)
	}
	return nil
}

// errorField extracts {"error": "..."} from a failure body, or "" when the
// body is not such an object.
func errorField(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Error
}

// IsSessionLoss reports a 401/403 from the backend.
func IsSessionLoss(err error) bool {
	return errors.Is(err, ErrAuth)
}
