package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConnection is a status stream from the engine. Dialing is retried
// with exponential backoff.
type WebSocketConnection struct {
	WebSocketURL string
	Conn         *websocket.Conn
	MaxRetry     int
	RetryCount   int
	mu           sync.Mutex

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer
}

func (c *ComfyClient) newWebSocket(clientID string) *WebSocketConnection {
	return &WebSocketConnection{
		WebSocketURL: c.websocketURL(clientID),
		MaxRetry:     3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Dialer: websocket.Dialer{
			HandshakeTimeout: c.timeout,
		},
	}
}

// Connect dials the websocket, retrying up to MaxRetry times
func (w *WebSocketConnection) Connect(ctx context.Context) error {
	for {
		conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
		if err == nil {
			w.mu.Lock()
			w.Conn = conn
			w.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return transportError(ctx.Err())
		}

		slog.Warn("websocket connection attempt failed", "url", w.WebSocketURL, "error", err)
		if w.RetryCount >= w.MaxRetry {
			return transportError(fmt.Errorf("websocket: maximum number of retries reached (%d): %w", w.MaxRetry, err))
		}

		select {
		case <-time.After(w.getReconnectDelay()):
		case <-ctx.Done():
			return transportError(ctx.Err())
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}

// ReadText blocks for the next text frame. Binary frames (previews) are skipped.
func (w *WebSocketConnection) ReadText() ([]byte, error) {
	w.mu.Lock()
	conn := w.Conn
	w.mu.Unlock()
	if conn == nil {
		return nil, errors.New("websocket is not connected")
	}

	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return message, nil
		}
	}
}

// Close closes the connection. It is safe to call more than once and from
// another goroutine to unblock ReadText.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	err := w.Conn.Close()
	w.Conn = nil
	return err
}
