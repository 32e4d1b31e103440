package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Handler receives each inbound wire message. It runs on the client's
// read goroutine; hand the message to whatever serializes engine access.
type Handler func(raw string)

// Client is a websocket transport for patch messages. Outbound messages
// pass through an unbounded FIFO; sends that fail are requeued and the
// connection is re-dialed with exponential backoff.
type Client struct {
	url     string
	handler Handler
	queue   *messageQueue

	mu   sync.Mutex
	conn *websocket.Conn

	done chan struct{}
	once sync.Once
}

// NewClient creates a client for the given websocket URL. The handler
// is invoked for every inbound message once Run is started.
func NewClient(url string, handler Handler) *Client {
	return &Client{
		url:     url,
		handler: handler,
		queue:   newMessageQueue(),
		done:    make(chan struct{}),
	}
}

// Send queues a wire message for transmission. Returns false after
// Close.
func (c *Client) Send(raw string) bool {
	return c.queue.Enqueue(raw)
}

// Pending returns the number of queued outbound messages.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Close shuts the client down and wakes the Run loop.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.queue.Close()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

// Run dials the server and pumps messages until the context is
// cancelled or Close is called. Each connection failure re-dials with
// exponential backoff; queued outbound messages survive reconnects.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.url, err)
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		slog.Info("transport connected", "url", c.url)

		err = c.pump(ctx, conn)
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
			slog.Warn("transport disconnected, re-dialing",
				"url", c.url,
				"error", err,
			)
		}
	}
}

// dial connects with exponential backoff until it succeeds or the
// context ends.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry until the context ends

	var conn *websocket.Conn
	operation := func() error {
		dialed, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			slog.Debug("dial attempt failed", "url", c.url, "error", err)
			return err
		}
		conn = dialed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// pump runs the read loop on the calling goroutine and drains the
// outbound queue on a writer goroutine. Returns when either side of the
// connection fails.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) error {
	writeErr := make(chan error, 1)
	writerCtx, cancelWriter := context.WithCancel(ctx)
	defer cancelWriter()

	go func() {
		err := c.writeLoop(writerCtx, conn)
		// Closing the connection unblocks the read loop below, so a
		// cancelled context or a failed write also ends the pump.
		conn.Close()
		writeErr <- err
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			cancelWriter()
			<-writeErr
			return fmt.Errorf("read: %w", err)
		}
		c.handler(string(raw))

		select {
		case err := <-writeErr:
			return err
		default:
		}
	}
}

// writeLoop drains the outbound queue onto the connection. A failed
// send requeues the message so it goes out on the next connection.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msg, ok := c.queue.TryDequeue()
		if ok {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				c.queue.Requeue(msg)
				return fmt.Errorf("write: %w", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.queue.Wait():
		}
	}
}
