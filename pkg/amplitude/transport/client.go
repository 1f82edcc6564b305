package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// Region base URLs.
const (
	RegionUS = "us"
	RegionEU = "eu"

	BaseURLUS = "https://api.amplitude.com"
	BaseURLEU = "https://api.eu.amplitude.com"
)

// Endpoint paths and their multipart field names.
const (
	EventsPath    = "/httpapi"
	EventsField   = "event"
	IdentifyPath  = "/identify"
	IdentifyField = "identification"
	APIKeyField   = "api_key"
)

const defaultTimeout = 30 * time.Second

// ErrAPIKeyRequired is returned by NewClient when no API key is given.
var ErrAPIKeyRequired = errors.New("transport: api key required")

// BaseURLForRegion returns the ingestion base URL for a region.
// Unknown regions use the US endpoint.
func BaseURLForRegion(region string) string {
	if strings.EqualFold(region, RegionEU) {
		return BaseURLEU
	}
	return BaseURLUS
}

// Config configures the HTTP client.
type Config struct {
	// APIKey is the project API key. Required.
	APIKey string

	// Region selects the ingestion endpoint ("us" or "eu").
	Region string

	// BaseURL overrides the region endpoint (e.g. a local sink).
	BaseURL string

	// Timeout bounds each HTTP request.
	// Default: 30 seconds
	Timeout time.Duration

	// Proxy resolves the proxy for a request.
	// Default: http.ProxyFromEnvironment
	Proxy func(*http.Request) (*url.URL, error)

	// Logger receives request diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// Client delivers events over HTTP using multipart form posts.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	proxyFn func(*http.Request) (*url.URL, error)

	mu        sync.RWMutex
	proxyUser string
	proxyPass string
}

// Compile-time interface check.
var _ Transport = (*Client)(nil)

// NewClient creates an HTTP transport.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Proxy == nil {
		cfg.Proxy = http.ProxyFromEnvironment
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURLForRegion(cfg.Region)
	}

	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  cfg.Logger,
		proxyFn: cfg.Proxy,
	}
	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                  c.proxy,
			OnProxyConnectResponse: rejectProxyConnect,
		},
	}
	return c, nil
}

// BaseURL returns the endpoint the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ConfigureProxy sets credentials for the environment proxy.
// Empty username and password revert to the unauthenticated environment proxy.
func (c *Client) ConfigureProxy(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxyUser = username
	c.proxyPass = password
}

// proxyConnectError is a non-200 answer to an HTTPS CONNECT. The client
// reports it as an error rather than a response, so the status is carried here.
type proxyConnectError struct {
	Code int
}

func (e *proxyConnectError) Error() string {
	return fmt.Sprintf("proxy connect: %d %s", e.Code, http.StatusText(e.Code))
}

func rejectProxyConnect(_ context.Context, _ *url.URL, _ *http.Request, res *http.Response) error {
	if res.StatusCode != http.StatusOK {
		return &proxyConnectError{Code: res.StatusCode}
	}
	return nil
}

// proxy resolves the proxy URL for req and attaches configured credentials.
func (c *Client) proxy(req *http.Request) (*url.URL, error) {
	u, err := c.proxyFn(req)
	if err != nil || u == nil {
		return u, err
	}

	c.mu.RLock()
	user, pass := c.proxyUser, c.proxyPass
	c.mu.RUnlock()

	if user == "" && pass == "" {
		return u, nil
	}
	withAuth := *u
	withAuth.User = url.UserPassword(user, pass)
	return &withAuth, nil
}

// SendEvents implements Transport.
func (c *Client) SendEvents(ctx context.Context, batch []*event.TrackEvent) (Result, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return ServerError, fmt.Errorf("encode events: %w", err)
	}
	return c.post(ctx, EventsPath, EventsField, data)
}

// SendIdentify implements Transport.
func (c *Client) SendIdentify(ctx context.Context, e *event.IdentifyEvent) (Result, error) {
	data, err := json.Marshal(identification(e))
	if err != nil {
		return ServerError, fmt.Errorf("encode identification: %w", err)
	}
	return c.post(ctx, IdentifyPath, IdentifyField, data)
}

// identification builds the identify API payload: identity keys at the top
// level, everything else under user_properties.
func identification(e *event.IdentifyEvent) map[string]any {
	props := make(map[string]any, len(e.UserProperties))
	for k, v := range e.UserProperties {
		if k == event.KeyUserID || k == event.KeyDeviceID {
			continue
		}
		props[k] = v
	}

	out := map[string]any{"user_properties": props}
	if id := e.UserID(); id != "" {
		out[event.KeyUserID] = id
	}
	if id := e.DeviceID(); id != "" {
		out[event.KeyDeviceID] = id
	}
	return out
}

// post sends a multipart form with the api key and one JSON field.
func (c *Client) post(ctx context.Context, path, field string, data []byte) (Result, error) {
	body, contentType, err := c.encodeForm(field, data)
	if err != nil {
		return ServerError, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return ServerError, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		var pe *proxyConnectError
		if errors.As(err, &pe) {
			result := ResultForStatus(pe.Code)
			c.logger.Warn("proxy rejected connection",
				slog.String("path", path),
				slog.Int("status", pe.Code),
				slog.String("result", result.String()),
			)
			return result, nil
		}
		return ServerError, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	result := ResultForStatus(resp.StatusCode)
	if result != Success {
		c.logger.Debug("ingestion endpoint rejected request",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("result", result.String()),
		)
	}
	return result, nil
}

func (c *Client) encodeForm(field string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writePart(w, APIKeyField, "text/plain; charset=utf-8", []byte(c.apiKey)); err != nil {
		return nil, "", err
	}
	if err := writePart(w, field, "application/json; charset=utf-8", data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writePart(w *multipart.Writer, name, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, name))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", name, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write part %s: %w", name, err)
	}
	return nil
}
