package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/logging"
)

// streamClient has no per-request timeout: SSE responses are long-lived.
func (c *Client) streamClient() *http.Client {
	return &http.Client{Timeout: 0, Transport: c.httpClient.Transport}
}

// Events opens the push event stream. Two SSE channels are consumed: the
// global channel and the user-scoped channel. Both feed a single merged
// event channel. Each connection reconnects with backoff on failure until
// ctx is canceled.
func (c *Client) Events(ctx context.Context) (<-chan PushEvent, <-chan error) {
	events := make(chan PushEvent, 100)
	errs := make(chan error, 2)

	paths := []string{
		"/api/v1/events",
		"/api/v1/users/" + url.PathEscape(c.userID) + "/events",
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			c.streamLoop(ctx, path, events, errs)
		}(p)
	}

	go func() {
		wg.Wait()
		close(events)
		close(errs)
	}()

	return events, errs
}

func (c *Client) streamLoop(ctx context.Context, path string, events chan<- PushEvent, errs chan<- error) {
	delay := c.reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := c.streamOnce(ctx, path, events)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A healthy connection resets the backoff; only consecutive
			// failed connects grow the delay.
			delay = c.reconnectMin
		}

		logging.Warn("event stream disconnected",
			zap.String("path", path),
			zap.Duration("reconnect_in", delay),
			zap.Error(err))

		select {
		case errs <- err:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.reconnectMax {
			delay = c.reconnectMax
		}
	}
}

// streamOnce consumes one SSE connection until it drops. The bool reports
// whether the connection was established at all, regardless of how it ended.
func (c *Client) streamOnce(ctx context.Context, path string, events chan<- PushEvent) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	resp, err := c.streamClient().Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	logging.Info("event stream connected", zap.String("path", path))

	scanner := bufio.NewScanner(resp.Body)
	var kind, data string

	for scanner.Scan() {
		line := scanner.Text()

		select {
		case <-ctx.Done():
			return true, nil
		default:
		}

		if line == "" {
			if data != "" {
				var ev PushEvent
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					if ev.Kind == "" {
						ev.Kind = EventKind(kind)
					}
					select {
					case events <- ev:
					default:
						logging.Debug("push event dropped (channel full)")
					}
				}
			}
			kind = ""
			data = ""
			continue
		}

		// SSE comment line
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("connection closed")
}
