package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/pkg/retry"
)

// Client talks to the node gateway over HTTP. It implements Backend.
type Client struct {
	baseURL     string
	userID      string
	httpClient  *http.Client
	retryConfig retry.Config
	callTimeout time.Duration

	reconnectMin time.Duration // event stream backoff floor
	reconnectMax time.Duration // event stream backoff cap

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL     string
	UserID      string
	AuthToken   string
	Timeout     time.Duration // per remote call; defaults to 15s
	RetryConfig retry.Config
}

// NewClient creates a new gateway client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig:  cfg.RetryConfig,
		callTimeout:  cfg.Timeout,
		reconnectMin: time.Second,
		reconnectMax: 30 * time.Second,
		online:       true,
		authToken:    cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the gateway was reachable on the last call.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("gateway is back online")
		} else {
			logging.Warn("gateway is unreachable")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// SecureGet fetches the value stored under key.
func (c *Client) SecureGet(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	err := retry.Do(ctx, c.retryConfig, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		u := c.baseURL + "/api/v1/storage/" + url.PathEscape(key)
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			c.setOnline(true)
			return ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			c.setOnline(false)
			if resp.StatusCode >= 500 {
				return retry.Retryable(fmt.Errorf("gateway error: %d", resp.StatusCode))
			}
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		}

		c.setOnline(true)

		result, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})

	return result, err
}

// SecurePut durably stores data under key on the backend.
func (c *Client) SecurePut(ctx context.Context, key string, data []byte) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		u := c.baseURL + "/api/v1/storage/" + url.PathEscape(key)
		req, err := http.NewRequestWithContext(callCtx, http.MethodPut, u, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			c.setOnline(false)
			if resp.StatusCode >= 500 {
				return retry.Retryable(fmt.Errorf("gateway error: %d", resp.StatusCode))
			}
			return fmt.Errorf("put failed: %d", resp.StatusCode)
		}

		c.setOnline(true)
		return nil
	})
}

// SubscribeEntity registers interest in push events for an entity.
func (c *Client) SubscribeEntity(ctx context.Context, entityID, userID string) error {
	return c.subscription(ctx, http.MethodPost, entityID, userID)
}

// UnsubscribeEntity removes a previously registered interest.
func (c *Client) UnsubscribeEntity(ctx context.Context, entityID, userID string) error {
	return c.subscription(ctx, http.MethodDelete, entityID, userID)
}

func (c *Client) subscription(ctx context.Context, method, entityID, userID string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	u := c.baseURL + "/api/v1/subscriptions/" + url.PathEscape(entityID) +
		"?user=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(callCtx, method, u, nil)
	if err != nil {
		return err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		c.setOnline(false)
		return fmt.Errorf("subscription call failed: %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// SyncStatus queries the node's current connectivity snapshot.
func (c *Client) SyncStatus(ctx context.Context) (Status, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return Status{}, err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return Status{}, fmt.Errorf("status call failed: %d", resp.StatusCode)
	}

	c.setOnline(true)

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
