package radio

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Client maintains a single websocket to the hub, reconnecting with a fixed
// delay and replaying subscriptions after each reconnect.
type Client struct {
	url    string
	header http.Header
	logger *log.Logger
	retry  time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]map[int]func(any)
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
	once   sync.Once
}

// NewClient prepares a client for the hub at address (tcp:// or ws://).
// Nothing is dialed until Start.
func NewClient(address string, logger *log.Logger) *Client {
	return &Client{
		url:      URL(address),
		header:   http.Header{},
		logger:   logger,
		retry:    5 * time.Second,
		handlers: map[string]map[int]func(any){},
		ready:    make(chan struct{}),
	}
}

// SetToken sends token as a bearer credential on every dial.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != "" {
		c.header.Set("Authorization", "Bearer "+token)
	}
}

// Start launches the connect loop in the background.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
}

// Ready is closed after the first successful connection.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Close stops reconnecting and closes the connection.
func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
	return nil
}

// Publish sends payload to channel through the hub.
func (c *Client) Publish(channel string, payload any) error {
	return c.send(Message{Type: TypePublish, Channel: channel, Payload: payload})
}

// Subscribe registers fn for channel. The returned func removes it.
func (c *Client) Subscribe(channel string, fn func(any)) func() {
	c.mu.Lock()
	first := len(c.handlers[channel]) == 0
	if first {
		c.handlers[channel] = map[int]func(any){}
	}
	id := c.nextID
	c.nextID++
	c.handlers[channel][id] = fn
	c.mu.Unlock()

	if first {
		_ = c.send(Message{Type: TypeSubscribe, Channel: channel})
	}
	return func() {
		c.mu.Lock()
		delete(c.handlers[channel], id)
		last := len(c.handlers[channel]) == 0
		if last {
			delete(c.handlers, channel)
		}
		c.mu.Unlock()
		if last {
			_ = c.send(Message{Type: TypeUnsubscribe, Channel: channel})
		}
	}
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrOffline
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)
	for {
		c.mu.Lock()
		header := c.header.Clone()
		c.mu.Unlock()
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.logger.Debug("radio dial failed", "url", c.url, "status", status, "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		if err := c.attach(conn); err != nil {
			_ = conn.Close()
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.logger.Debug("radio connected", "url", c.url)
		c.once.Do(func() { close(c.ready) })
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.logger.Debug("radio disconnected, retrying", "delay", c.retry)
		if !c.sleep(ctx) {
			return
		}
	}
}

// attach installs conn and replays subscriptions.
func (c *Client) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for channel := range c.handlers {
		if err := conn.WriteJSON(Message{Type: TypeSubscribe, Channel: channel}); err != nil {
			return err
		}
	}
	c.conn = conn
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != TypeMessage {
			continue
		}
		c.mu.Lock()
		fns := make([]func(any), 0, len(c.handlers[msg.Channel]))
		for _, fn := range c.handlers[msg.Channel] {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(msg.Payload)
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
