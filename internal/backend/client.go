package backend

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

	"SmargeChat/internal/transcript"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds every non-streaming request.
	DefaultTimeout = 60 * time.Second

	// DefaultChunkSize is the read buffer used for chat streams.
	DefaultChunkSize = 4096

	maxErrorBody = 4096
)

// TokenSource supplies the bearer credential for each request
type TokenSource interface {
	Token() string
}

// ClientConfig holds configuration for Client
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	ChunkSize int
	Tokens    TokenSource
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter

	// Transport overrides the HTTP round tripper, mainly for tests
	Transport http.RoundTripper
}

// Client talks to the SmargeAI HTTP API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	chunkSize    int
	tokens       TokenSource
	logger       *slog.Logger
	tracer       trace.Tracer
	duration     metric.Float64Histogram
}

// NewClient creates a new API client
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("smargechat/backend")
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("smargechat/backend")
	}

	duration, err := cfg.Meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		// No timeout for chat streams, they are bounded by the caller's context
		streamClient: &http.Client{Timeout: 0, Transport: cfg.Transport},
		chunkSize:    cfg.ChunkSize,
		tokens:       cfg.Tokens,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		duration:     duration,
	}, nil
}

// ListConversations returns the caller's conversations
func (c *Client) ListConversations(ctx context.Context) ([]transcript.ConversationSummary, error) {
	var list []transcript.ConversationSummary
	if err := c.doJSON(ctx, "list conversations", http.MethodGet, PathConversations, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetConversation fetches the full turn list of one conversation
func (c *Client) GetConversation(ctx context.Context, id string) ([]transcript.Turn, error) {
	var resp ConversationResponse
	if err := c.doJSON(ctx, "load conversation", http.MethodGet, conversationPath(id), nil, &resp); err != nil {
		return nil, err
	}
	turns, err := resp.Turns()
	if err != nil {
		return nil, &DecodeError{Op: "load conversation", Offset: -1, Err: err}
	}
	return turns, nil
}

// DeleteConversation removes a conversation
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, "delete conversation", http.MethodDelete, conversationPath(id), nil, nil)
}

// Login exchanges credentials for a bearer token
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	var resp TokenResponse
	err := c.doJSON(ctx, "login", http.MethodPost, PathLogin, req, &resp)
	return resp, err
}

// Register creates an account and returns its bearer token
func (c *Client) Register(ctx context.Context, req RegisterRequest) (TokenResponse, error) {
	var resp TokenResponse
	err := c.doJSON(ctx, "register", http.MethodPost, PathRegister, req, &resp)
	return resp, err
}

// Me returns the user the current credential belongs to
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	err := c.doJSON(ctx, "current user", http.MethodGet, PathMe, nil, &user)
	return user, err
}

// StreamChat posts a message and returns the chunked response body.
// The caller must Close the stream.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	const op = "send message"
	httpReq, requestID, err := c.newRequest(ctx, http.MethodPost, PathChat, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/plain")

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	c.recordDuration(ctx, op, start)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(op, resp, requestID)
	}

	c.logger.Debug("chat stream opened",
		"request_id", requestID,
		"conversation_id", resp.Header.Get(HeaderConversationID))

	return &httpStream{
		op:             op,
		body:           resp.Body,
		buf:            make([]byte, c.chunkSize),
		conversationID: resp.Header.Get(HeaderConversationID),
	}, nil
}

func conversationPath(id string) string {
	return PathConversations + "/" + url.PathEscape(id)
}

// newRequest builds a request with the JSON body, bearer token and request id
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, string, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, requestID, nil
}

// doJSON performs a non-streaming request and decodes the JSON response into result
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, result any) error {
	ctx, span := c.tracer.Start(ctx, "api."+strings.ReplaceAll(op, " ", "_"),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	req, requestID, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.recordDuration(ctx, op, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return statusError(op, resp, requestID)
	}

	if result == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &DecodeError{Op: op, Offset: -1, Err: err}
	}

	c.logger.Debug("api request completed", "op", op, "request_id", requestID, "status", resp.StatusCode)
	return nil
}

func (c *Client) recordDuration(ctx context.Context, op string, start time.Time) {
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("op", op)))
}

func statusError(op string, resp *http.Response, requestID string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPStatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
		RequestID:  requestID,
	}
}
