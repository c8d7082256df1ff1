package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// SendRate and SendBurst bound mutating requests per second. Zero disables the limit.
	SendRate   float64
	SendBurst  int
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client calls the chat server's message endpoints.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New builds a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: unsupported scheme", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Client{
		base:    base,
		http:    httpClient,
		limiter: limiter,
		log:     logger,
		token:   opts.Token,
	}, nil
}

// SetToken replaces the bearer token used for later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// FetchHistory returns up to limit messages of roomID older than before, or the
// latest page when before is empty.
func (c *Client) FetchHistory(ctx context.Context, roomID string, limit int, before string) (core.Page, error) {
	if roomID == "" {
		return core.Page{}, core.ErrRoomRequired
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		query.Set("before", before)
	}

	var resp proto.HistoryResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), query, nil, &resp); err != nil {
		return core.Page{}, err
	}
	msgs := proto.ToMessages(resp.Messages)
	for i := range msgs {
		if msgs[i].RoomID == "" {
			msgs[i].RoomID = roomID
		}
	}
	return core.Page{Messages: msgs, HasMore: resp.HasMore}, nil
}

// SendMessage posts a message and returns the server-assigned id and time.
func (c *Client) SendMessage(ctx context.Context, roomID string, req proto.SendRequest) (proto.SendResponse, error) {
	if roomID == "" {
		return proto.SendResponse{}, core.ErrRoomRequired
	}
	if strings.TrimSpace(req.Text) == "" {
		return proto.SendResponse{}, core.ErrEmptyText
	}
	var resp proto.SendResponse
	if err := c.do(ctx, http.MethodPost, roomPath(roomID, "messages"), nil, req, &resp); err != nil {
		return proto.SendResponse{}, err
	}
	return resp, nil
}

// EditMessage replaces the text of a message.
func (c *Client) EditMessage(ctx context.Context, roomID, messageID, text string) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if messageID == "" {
		return core.ErrMessageRequired
	}
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}
	return c.do(ctx, http.MethodPatch, roomPath(roomID, "messages", messageID), nil, proto.EditRequest{Text: text}, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if messageID == "" {
		return core.ErrMessageRequired
	}
	return c.do(ctx, http.MethodDelete, roomPath(roomID, "messages", messageID), nil, nil, nil)
}

func roomPath(roomID string, parts ...string) []string {
	return append([]string{"api", "rooms", roomID}, parts...)
}

func (c *Client) do(ctx context.Context, method string, elems []string, query url.Values, body, out any) error {
	if method != http.MethodGet {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	target := c.base.JoinPath(elems...)
	path := target.Path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body proto.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
