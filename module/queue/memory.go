package queue

import (
	"context"
	"sync"

	"CampusChat/tools/safe"
)

// MemoryQueue runs jobs through a worker in-process. Test and single-node
// double for the JetStream queue; same at-least-once, unordered contract.
type MemoryQueue struct {
	worker *Worker
	jobs   chan *Job
	wg     sync.WaitGroup
	once   sync.Once
}

func NewMemoryQueue(worker *Worker, buffer, workers int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	q := &MemoryQueue{worker: worker, jobs: make(chan *Job, buffer)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		safe.Go("queue.memory.worker", func() {
			defer q.wg.Done()
			for job := range q.jobs {
				_ = q.worker.ProcessWithRetry(context.Background(), job)
			}
		})
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending jobs and waits for workers to finish.
func (q *MemoryQueue) Close() {
	q.once.Do(func() { close(q.jobs) })
	q.wg.Wait()
}
