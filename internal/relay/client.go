package relay

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	queueSize    = 32
)

// Client pushes display events to the relay over an outbound websocket.
// Publish never blocks; events queued while the relay is unreachable are
// dropped once the buffer fills. The display is best effort.
type Client struct {
	url   string
	retry time.Duration
	out   chan any
}

// New returns a client for the relay URL. An empty URL yields a disabled
// client whose Publish silently drops everything.
func New(url string, retry time.Duration) *Client {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &Client{
		url:   url,
		retry: retry,
		out:   make(chan any, queueSize),
	}
}

func (c *Client) Enabled() bool { return c.url != "" }

// Publish queues an event for delivery. It reports false when the event was
// dropped.
func (c *Client) Publish(event any) bool {
	if !c.Enabled() {
		return false
	}
	select {
	case c.out <- event:
		return true
	default:
		return false
	}
}

// Run connects to the relay and pumps queued events until ctx is cancelled,
// redialing on a fixed interval after any failure.
func (c *Client) Run(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			log.Printf("relay: dial %s: %v", c.url, err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		log.Printf("relay: connected to %s", c.url)

		if !c.pump(ctx, conn) {
			conn.Close()
			return
		}
		conn.Close()
		if !c.sleep(ctx) {
			return
		}
	}
}

// pump writes queued events until the connection fails. It returns false when
// ctx ended and the client should stop for good.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("relay: write failed, reconnecting: %v", err)
				return true
			}
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
