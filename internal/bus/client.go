package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/nats-io/nats.go"
)

// ErrTooLarge is returned when an encoded message exceeds the server's
// payload limit.
var ErrTooLarge = errors.New("message exceeds bus payload limit")

// Client is a NATS connection carrying JSON messages.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials cfg.Servers and keeps reconnecting for the life of the client.
func Connect(ctx context.Context, cfg config.BusConfig, name string, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	options := []nats.Option{
		nats.Name(name),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", slog.String("server", c.ConnectedUrl()))
		}),
	}
	switch {
	case cfg.Token != "":
		options = append(options, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS",
		slog.String("server", conn.ConnectedUrl()),
		slog.Int64("max_payload", conn.MaxPayload()))
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Subscribe registers handler for subject.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Encode marshals v and checks it against the negotiated payload limit.
func (c *Client) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode bus message: %w", err)
	}
	if limit := c.conn.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), limit)
	}
	return data, nil
}

// PublishJSON sends v on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// RequestJSON sends req on subject and decodes the first reply into resp.
// The deadline comes from ctx.
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp any) error {
	data, err := c.Encode(req)
	if err != nil {
		return err
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}
