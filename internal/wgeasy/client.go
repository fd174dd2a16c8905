package wgeasy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BatmanBruc/wgshop-bot/internal/metrics"
	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

var (
	ErrNotAuthenticated = errors.New("wgeasy: not authenticated")
	ErrClientNotFound   = errors.New("wgeasy: client not found")
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	maxErrorBody      = 512
)

// StatusError is a non-2xx answer from wg-easy.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("wgeasy %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("wgeasy %s: status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}
	return nil
}

// Client talks to one wg-easy instance. The session cookie lives in the
// client's own jar, so instances for different servers never share it.
type Client struct {
	server     string
	baseURL    string
	password   string
	httpClient *http.Client
	timeout    time.Duration
	retryDelay time.Duration

	mu     sync.RWMutex
	authed bool
}

var _ types.Provisioner = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the transport. A jar is attached when the client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

func New(server types.Server, password string, timeout time.Duration, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(server.Endpoint), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("wgeasy: server %s: invalid endpoint %q", server.ID, server.Endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		server:     server.ID,
		baseURL:    base,
		password:   password,
		httpClient: &http.Client{},
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc := *c.httpClient
		hc.Jar = jar
		c.httpClient = &hc
	}
	return c, nil
}

func (c *Client) Server() string { return c.server }

func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]string{"password": c.password}
	if err := c.do(ctx, "authenticate", http.MethodPost, "/api/session", body, nil); err != nil {
		c.setAuthed(false)
		return fmt.Errorf("authenticate %s: %w", c.server, err)
	}
	c.setAuthed(true)
	log.Debug().Str("server", c.server).Msg("wg-easy session established")
	return nil
}

func (c *Client) CreateClient(ctx context.Context, name string) error {
	return c.do(ctx, "create", http.MethodPost, "/api/wireguard/client", map[string]string{"name": name}, nil)
}

func (c *Client) ListClients(ctx context.Context) ([]types.WGClient, error) {
	var out []types.WGClient
	if err := c.do(ctx, "list", http.MethodGet, "/api/wireguard/client", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindClientByName returns the newest client called name.
func (c *Client) FindClientByName(ctx context.Context, name string) (*types.WGClient, error) {
	clients, err := c.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	var found *types.WGClient
	for i := range clients {
		if clients[i].Name != name {
			continue
		}
		if found == nil || clients[i].CreatedAt.After(found.CreatedAt) {
			found = &clients[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrClientNotFound, name, c.server)
	}
	return found, nil
}

func (c *Client) EnableClient(ctx context.Context, id string) error {
	return c.do(ctx, "enable", http.MethodPost, clientPath(id, "enable"), nil, nil)
}

// DisableClient disables every client called name.
func (c *Client) DisableClient(ctx context.Context, name string) error {
	return c.eachNamed(ctx, name, func(id string) error {
		return c.do(ctx, "disable", http.MethodPost, clientPath(id, "disable"), nil, nil)
	})
}

// RemoveClient deletes every client called name.
func (c *Client) RemoveClient(ctx context.Context, name string) error {
	return c.eachNamed(ctx, name, func(id string) error {
		return c.do(ctx, "remove", http.MethodDelete, clientPath(id, ""), nil, nil)
	})
}

func (c *Client) Config(ctx context.Context, id string) (string, error) {
	var conf string
	if err := c.do(ctx, "config", http.MethodGet, clientPath(id, "configuration"), nil, &conf); err != nil {
		return "", err
	}
	return conf, nil
}

func (c *Client) eachNamed(ctx context.Context, name string, fn func(id string) error) error {
	clients, err := c.ListClients(ctx)
	if err != nil {
		return err
	}
	matched := 0
	for _, cl := range clients {
		if cl.Name != name {
			continue
		}
		matched++
		if err := fn(cl.ID); err != nil {
			return err
		}
	}
	if matched == 0 {
		return fmt.Errorf("%w: %s on %s", ErrClientNotFound, name, c.server)
	}
	return nil
}

func clientPath(id, action string) string {
	p := "/api/wireguard/client/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) isAuthed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Client) setAuthed(v bool) {
	c.mu.Lock()
	c.authed = v
	c.mu.Unlock()
}

// do performs one API call with a deadline and at most one retry on
// network errors or 5xx answers. out may be *string for raw bodies.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if op != "authenticate" && !c.isAuthed() {
		return ErrNotAuthenticated
	}

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("wgeasy %s: encode: %w", op, err)
		}
		payload = b
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	status := "error"
	defer func() {
		metrics.ProvisioningRequestsTotal.WithLabelValues(c.server, op, status).Inc()
		metrics.ProvisioningRequestDuration.WithLabelValues(c.server, op).Observe(time.Since(started).Seconds())
	}()

	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Debug().Err(err).Str("server", c.server).Str("op", op).Msg("wg-easy request failed, retrying")
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		status = strconv.Itoa(resp.StatusCode)

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			serr := &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if resp.StatusCode >= 500 {
				return retry.RetryableError(serr)
			}
			return serr
		}

		switch dst := out.(type) {
		case nil:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case *string:
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retry.RetryableError(err)
			}
			*dst = string(raw)
			return nil
		default:
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return fmt.Errorf("wgeasy %s: decode: %w", op, err)
			}
			return nil
		}
	})
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			c.setAuthed(false)
		}
		return err
	}
	return nil
}
