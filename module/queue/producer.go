package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"CampusChat/service/natsx"
	errs "CampusChat/tools/errs"
)

// Producer pushes jobs onto the durable JetStream queue.
type Producer struct {
	client  *natsx.Client
	subject string
}

func NewProducer(client *natsx.Client, subject string) *Producer {
	return &Producer{client: client, subject: subject}
}

func (p *Producer) Enqueue(ctx context.Context, job *Job) error {
	if job.EnqueuedAtMS == 0 {
		job.EnqueuedAtMS = time.Now().UnixMilli()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	if err := p.client.PublishMsgID(ctx, p.subject, raw, job.DedupeID()); err != nil {
		return errs.ErrQueueUnavailable.WithDetail(err.Error())
	}
	return nil
}
