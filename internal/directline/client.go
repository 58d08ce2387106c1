// Package directline implements the transport adapter: conversation
// lifecycle, the push activity stream (socket or polling) and outbound
// posts and uploads against the Direct Line v3 REST surface.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dlbridge/internal/activity"
	"dlbridge/internal/domain"
)

const tokenRefreshInterval = 15 * time.Minute

// Config configures the transport client. HTTPClient and Dialer are
// injection points for tests; both default to shared implementations.
type Config struct {
	Secret          string
	Domain          string
	WebSocket       bool
	PollingInterval time.Duration
	Timeout         time.Duration
	HTTPClient      *http.Client
	Dialer          *websocket.Dialer
	Logger          *slog.Logger
}

// conversation is the response of POST /conversations.
type conversation struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	StreamURL      string `json:"streamUrl"`
	ExpiresIn      int    `json:"expires_in"`
}

// resourceResponse is the response of an activity post or upload.
type resourceResponse struct {
	ID string `json:"id"`
}

// Client drives one Direct Line conversation. Connection-state transitions
// are published on States; accepted wire activities on Activities.
type Client struct {
	domain    string
	secret    string
	useSocket bool
	pollEvery time.Duration
	http      *http.Client
	dialer    *websocket.Dialer
	logger    *slog.Logger

	mu        sync.Mutex
	state     domain.ConnectionState
	token     string
	convID    string
	watermark string
	conn      *websocket.Conn
	stopped   bool
	reading   bool

	states     chan domain.ConnectionState
	activities chan activity.Activity
	stop       chan struct{}
	stopOnce   sync.Once
}

// SharedHTTPClient returns a pooled HTTP client bounded by timeout. The
// bridge only ever talks to one endpoint, so the pool stays small; idle
// connections are kept warm well past the slowest polling cadence so polls
// and sends reuse the same conversation connection.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     2 * time.Minute,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// NewClient creates a client. It performs no I/O until Connect.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = SharedHTTPClient(cfg.Timeout)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	pollEvery := cfg.PollingInterval
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &Client{
		domain:     cfg.Domain,
		secret:     cfg.Secret,
		useSocket:  cfg.WebSocket,
		pollEvery:  pollEvery,
		http:       httpClient,
		dialer:     dialer,
		logger:     cfg.Logger,
		state:      domain.StateUninitialized,
		token:      cfg.Secret,
		states:     make(chan domain.ConnectionState, 16),
		activities: make(chan activity.Activity, 64),
		stop:       make(chan struct{}),
	}
}

// States is the connection-state transition stream.
func (c *Client) States() <-chan domain.ConnectionState { return c.states }

// Activities is the inbound wire activity stream, in arrival order.
func (c *Client) Activities() <-chan activity.Activity { return c.activities }

// ConversationID returns the active conversation identifier.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convID
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Domain returns the endpoint base URL.
func (c *Client) Domain() string { return c.domain }

// Connect starts a conversation and the activity stream. State transitions
// are pushed on States; Connect itself returns the handshake outcome.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(domain.StateConnecting)

	conv, status, err := c.startConversation(ctx)
	if err != nil {
		if status == http.StatusForbidden || status == http.StatusUnauthorized {
			c.setState(domain.StateExpiredToken)
			return &domain.ConnectionError{Kind: domain.ConnectionTokenExpired, Err: err}
		}
		c.setState(domain.StateFailedToConnect)
		return &domain.ConnectionError{Kind: domain.ConnectionFailed, Err: err}
	}

	c.mu.Lock()
	c.convID = conv.ConversationID
	if conv.Token != "" {
		c.token = conv.Token
	}
	c.mu.Unlock()

	if c.useSocket && conv.StreamURL != "" {
		conn, _, err := c.dialer.DialContext(ctx, conv.StreamURL, nil)
		if err != nil {
			c.setState(domain.StateFailedToConnect)
			return &domain.ConnectionError{Kind: domain.ConnectionFailed, Err: fmt.Errorf("dial stream: %w", err)}
		}
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			conn.Close()
			return &domain.ConnectionError{Kind: domain.ConnectionEnded}
		}
		c.conn = conn
		c.reading = true
		c.mu.Unlock()
		go c.socketLoop(conn)
	} else {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return &domain.ConnectionError{Kind: domain.ConnectionEnded}
		}
		c.reading = true
		c.mu.Unlock()
		go c.pollLoop()
	}
	go c.refreshLoop()

	c.setState(domain.StateOnline)
	return nil
}

// PostActivity sends one serialized activity and returns the identifier
// assigned by the transport.
func (c *Client) PostActivity(ctx context.Context, raw []byte) (string, error) {
	url := fmt.Sprintf("%s/conversations/%s/activities", c.domain, c.ConversationID())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post activity: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("post activity: status %d: %s", resp.StatusCode, truncate(body))
	}
	var rr resourceResponse
	if err := json.Unmarshal(body, &rr); err != nil || rr.ID == "" {
		return "", fmt.Errorf("post activity: response carries no id")
	}
	return rr.ID, nil
}

// Probe issues a lightweight session check. Callers use it best-effort to
// nudge a fresh session when no welcome activity is configured.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.domain+"/session/getsessionid", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session probe: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Stop ends the stream and marks the connection Ended. Safe to call more
// than once and before Connect.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		conn := c.conn
		reading := c.reading
		c.mu.Unlock()
		close(c.stop)
		if conn != nil {
			conn.Close()
		}
		// With no read loop running, nothing else owns the activities
		// channel. Close it here so a ranging consumer unblocks.
		if !reading {
			close(c.activities)
		}
		c.setState(domain.StateEnded)
	})
}

func (c *Client) startConversation(ctx context.Context) (*conversation, int, error) {
	url := c.domain + "/conversations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("start conversation: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("start conversation: status %d: %s", resp.StatusCode, truncate(body))
	}
	var conv conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("start conversation: decode: %w", err)
	}
	if conv.ConversationID == "" {
		return nil, resp.StatusCode, fmt.Errorf("start conversation: response carries no conversationId")
	}
	return &conv, resp.StatusCode, nil
}

// refreshLoop keeps the bearer token alive. A rejected refresh expires the
// session; transient failures are logged and retried next interval.
func (c *Client) refreshLoop() {
	ticker := time.NewTicker(tokenRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			status, err := c.refreshToken()
			if err == nil {
				continue
			}
			if status == http.StatusForbidden || status == http.StatusUnauthorized {
				c.logger.Error("token refresh rejected", "status", status)
				c.setState(domain.StateExpiredToken)
				return
			}
			c.logger.Warn("token refresh failed", "err", err)
		}
	}
}

func (c *Client) refreshToken() (int, error) {
	timeout := c.http.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.domain+"/tokens/refresh", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("refresh token: status %d", resp.StatusCode)
	}
	var conv conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return resp.StatusCode, fmt.Errorf("refresh token: decode: %w", err)
	}
	if conv.Token != "" {
		c.mu.Lock()
		c.token = conv.Token
		c.mu.Unlock()
	}
	return resp.StatusCode, nil
}

func (c *Client) setState(s domain.ConnectionState) {
	c.mu.Lock()
	if c.state.Terminal() && s != domain.StateEnded {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
		c.logger.Warn("state transition dropped, observer too slow", "state", s)
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
