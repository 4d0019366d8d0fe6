package natsx

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Config for the JetStream-backed work queue connection.
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Client wraps one NATS connection plus its JetStream context. The
// persistence queue is the only user; pub/sub fan-out stays on the shared
// state store.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "init jetstream")
	}
	return &Client{nc: nc, js: js}, nil
}

func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// EnsureStream creates the stream if absent. Idempotent across gateways.
func (c *Client) EnsureStream(name string, subjects []string) error {
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errors.Wrapf(err, "stream info %s", name)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	return errors.Wrapf(err, "add stream %s", name)
}

// PublishMsgID publishes with a Nats-Msg-Id header, letting the broker
// collapse duplicate publishes inside its dedupe window. Storage-level
// idempotency still backs this up.
func (c *Client) PublishMsgID(ctx context.Context, subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	_, err := c.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// SubscribeOptions for the durable queue-group consumer.
type SubscribeOptions struct {
	Subject       string
	Queue         string
	Durable       string
	AckWait       time.Duration
	MaxAckPending int
}

// QueueSubscribe starts a durable queue-group subscription with manual
// acks. The handler's error decides ack vs redelivery.
func (c *Client) QueueSubscribe(opts SubscribeOptions, h func(ctx context.Context, data []byte) error) (*nats.Subscription, error) {
	subOpts := []nats.SubOpt{
		nats.ManualAck(),
	}
	if opts.Durable != "" {
		subOpts = append(subOpts, nats.Durable(opts.Durable))
	}
	if opts.AckWait > 0 {
		subOpts = append(subOpts, nats.AckWait(opts.AckWait))
	}
	if opts.MaxAckPending > 0 {
		subOpts = append(subOpts, nats.MaxAckPending(opts.MaxAckPending))
	}
	cb := func(m *nats.Msg) {
		data := append([]byte(nil), m.Data...)
		if err := h(context.Background(), data); err != nil {
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}
	return c.js.QueueSubscribe(opts.Subject, opts.Queue, cb, subOpts...)
}
