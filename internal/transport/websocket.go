package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/poslab/catsync/internal/config"
	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// WSClient receives lightweight catalog-change events over a websocket.
// Events are wake-up markers only; the engine re-derives truth from its
// cursor, never from event contents.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	eventsCh chan models.StreamEvent
	errors   chan error
	done     chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a subscription client.
func NewWSClient(wsURL, token string, cfg *config.StreamConfig, logger *events.Logger) *WSClient {
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 10 * time.Second
	}

	return &WSClient{
		url:          wsURL,
		token:        token,
		logger:       logger.WithField("component", "stream_client"),
		eventsCh:     make(chan models.StreamEvent, 16),
		errors:       make(chan error, 4),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// Connect establishes the subscription connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	c.logger.WithField("url", c.url).Info("Connecting subscription stream")

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("stream connect failed: %w", err)
	}

	c.conn = conn
	go c.readLoop()
	go c.pingLoop()

	c.logger.Info("Subscription stream connected")
	return nil
}

// Events returns the event channel; it closes when the connection ends.
func (c *WSClient) Events() <-chan models.StreamEvent {
	return c.eventsCh
}

// Errors returns the error channel.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *WSClient) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.eventsCh)
		close(c.errors)
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
			return nil
		})

		var ev models.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Stream read error")
				c.errors <- err
			}
			return
		}
		ev.ReceivedAt = time.Now().UTC()

		c.logger.WithField("type", ev.Type).Debug("Stream event received")

		select {
		case c.eventsCh <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.WithError(err).Error("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
