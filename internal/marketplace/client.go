package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bountyline/internal/logging"
)

// Client issues requests against the bounty marketplace API. It never
// retries and never turns a non-2xx status into an error.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 30 * time.Second,
	}
}

// Options tunes a single request. The zero value is an authenticated GET.
type Options struct {
	Method string
	Body   any
	Params url.Values
	NoAuth bool
}

// Response is the uniform result envelope. Data is always valid JSON:
// unparseable bodies are replaced by an empty object.
type Response struct {
	OK     bool
	Status int
	Data   json.RawMessage
}

// Message returns the optional "message" field carried by error bodies.
func (r Response) Message() string {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return ""
	}
	return lenientString(body.Message)
}

// Fail formats an upstream rejection as "<context> (<status>): <message>".
func (r Response) Fail(context string) string {
	msg := r.Message()
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Sprintf("%s (%d): %s", context, r.Status, msg)
}

var emptyObject = json.RawMessage(`{}`)

// Fetch performs one request. Only network-level faults are returned as errors.
func (c *Client) Fetch(ctx context.Context, path string, opts Options) (Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := c.base() + "/" + strings.TrimLeft(path, "/")
	if len(opts.Params) > 0 {
		endpoint += "?" + opts.Params.Encode()
	}
	var body io.Reader
	if opts.Body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(opts.Body); err != nil {
			return Response{}, fmt.Errorf("encode request body: %w", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if !opts.NoAuth && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	data := json.RawMessage(raw)
	if !json.Valid(raw) {
		data = emptyObject
	}
	logging.OrDefault(c.Logger).Debug("marketplace request",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Data:   data,
	}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
