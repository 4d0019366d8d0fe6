package queue

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"CampusChat/service/natsx"
)

// Consumer binds worker handlers to the durable queue group. Each Start
// call opens `workers` subscriptions in the same group, so the broker
// spreads jobs across them; every gateway process runs its own consumer and
// the group spreads jobs across the fleet too.
type Consumer struct {
	client *natsx.Client
	worker *Worker
	opts   natsx.SubscribeOptions
	subs   []*nats.Subscription
}

func NewConsumer(client *natsx.Client, worker *Worker, opts natsx.SubscribeOptions) *Consumer {
	return &Consumer{client: client, worker: worker, opts: opts}
}

func (c *Consumer) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		sub, err := c.client.QueueSubscribe(c.opts, func(ctx context.Context, data []byte) error {
			return c.worker.Handle(ctx, data)
		})
		if err != nil {
			c.Stop()
			return errors.Wrap(err, "start persist consumer")
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
}
