package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadTimeout  = 90 * time.Second
	defaultPingInterval = 30 * time.Second
)

// inboundFrame is one event pushed by the chat-transport gateway. The
// gateway owns pairing, authentication, reconnection and voice
// transcription; by the time a frame arrives here it is plain text.
type inboundFrame struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// outboundFrame is one send handed to the gateway for delivery.
type outboundFrame struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Client is the messaging-channel adapter. It owns exactly one
// websocket connection to the gateway and is injected wherever sends
// are needed; there is no package-level connection state.
type Client struct {
	url    string
	log    *zap.Logger
	dialer *websocket.Dialer

	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Client)

// WithKeepalive overrides the ping interval and the read deadline the
// interval must outpace.
func WithKeepalive(pingInterval, readTimeout time.Duration) Option {
	return func(c *Client) {
		if pingInterval > 0 {
			c.pingInterval = pingInterval
		}
		if readTimeout > 0 {
			c.readTimeout = readTimeout
		}
	}
}

func New(url string, log *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("gateway: url must not be empty")
	}
	if log == nil {
		return nil, errors.New("gateway: logger must not be nil")
	}
	c := &Client{
		url:          url,
		log:          log,
		dialer:       websocket.DefaultDialer,
		writeTimeout: defaultWriteTimeout,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the gateway. Must be called before Subscribe or any
// send.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial %s: %w", c.url, err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.log.Info("gateway connected", zap.String("url", c.url))
	return nil
}

// Subscribe reads inbound frames and hands each to handle. It blocks
// until the connection closes or ctx is cancelled; a clean Shutdown
// returns nil. A ping ticker keeps the read deadline moving on idle
// connections, so a quiet channel never ends the subscription.
func (c *Client) Subscribe(ctx context.Context, handle func(domain.InboundMessage)) error {
	conn := c.connection()
	if conn == nil {
		return errors.New("gateway: not connected")
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return fmt.Errorf("gateway: set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.keepalive(conn, pingDone)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("gateway: read: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return fmt.Errorf("gateway: set read deadline: %w", err)
		}
		if frame.Sender == "" || strings.TrimSpace(frame.Text) == "" {
			c.log.Debug("dropping malformed inbound frame", zap.String("sender", frame.Sender))
			continue
		}
		handle(domain.InboundMessage{SenderID: frame.Sender, Text: frame.Text})
	}
}

// keepalive pings the gateway so the pong handler can extend the read
// deadline while no data frames flow. WriteControl is safe alongside
// the data writes under writeMu.
func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.log.Debug("ping write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		case <-c.closed:
			return
		}
	}
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, recipient, text string) error {
	return c.send(ctx, outboundFrame{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Text:      text,
	})
}

// SendMedia delivers a media reference with a caption. The gateway
// resolves the reference and attaches the file.
func (c *Client) SendMedia(ctx context.Context, recipient, mediaURL, caption string) error {
	return c.send(ctx, outboundFrame{
		ID:        uuid.NewString(),
		Recipient: recipient,
		MediaURL:  mediaURL,
		Caption:   caption,
	})
}

// send serializes writes: gorilla/websocket allows only one concurrent
// writer per connection.
func (c *Client) send(ctx context.Context, frame outboundFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("gateway: not connected")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("gateway: set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("gateway: write frame %s: %w", frame.ID, err)
	}
	return nil
}

// Shutdown sends a close frame and tears the connection down. Safe to
// call more than once.
func (c *Client) Shutdown(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(c.writeTimeout)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil {
			c.log.Debug("close frame write failed", zap.Error(werr))
		}
		err = c.conn.Close()
		c.conn = nil
	})
	return err
}

func (c *Client) connection() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}
