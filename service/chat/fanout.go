package chat

import (
	"sync"

	"CampusChat/tools/safe"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout is the bounded worker pool that pushes one payload to many local
// connections without stalling the bus subscriber.
type Fanout struct {
	mu     sync.RWMutex
	jobs   chan fanoutJob
	closed bool
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		safe.Go("chat.fanout", func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					select {
					case c.Send <- job.payload:
					default:
						// slow client: skip rather than block the pool
					}
				}
			}
		})
	}
	return f
}

// Broadcast after Close is a no-op; the bus subscriber can outlive the
// pool during shutdown.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

// Close stops accepting work; the workers drain what is already queued.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.jobs)
}
