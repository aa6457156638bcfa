package instance

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"cobalt-hq/saturn/pkg/workflow"
)

// ErrPoolClosed indicates an enqueue after shutdown.
var ErrPoolClosed = errors.New("progression pool is shut down")

// Pool processes event deliveries asynchronously. Events for the same
// instance land on the same worker queue, so deliveries per instance run in
// arrival order and never race each other; different instances progress in
// parallel across workers.
type Pool struct {
	manager *Manager
	queues  []chan job
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

type job struct {
	instanceID string
	event      workflow.TriggerEvent
}

// NewPool starts a progression pool with the given worker count and
// per-worker queue depth.
func NewPool(manager *Manager, workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		manager: manager,
		queues:  make([]chan job, workers),
		logger:  logger.With("component", "workflow.pool"),
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, queueDepth)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	return p
}

// Enqueue queues an event delivery for the instance. It blocks when the
// instance's worker queue is full, which applies backpressure to the
// producer instead of dropping events.
func (p *Pool) Enqueue(instanceID string, ev workflow.TriggerEvent) error {
	// The sender count is taken under the same lock as the closed check, so
	// Shutdown either rejects this enqueue or waits for its send to land
	// before closing the queues.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.senders.Add(1)
	queue := p.queues[p.pick(instanceID)]
	p.mu.Unlock()
	defer p.senders.Done()

	queue <- job{instanceID: instanceID, event: ev}
	return nil
}

// Shutdown stops accepting work, lets in-flight enqueues land, and waits
// for queued deliveries to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.senders.Wait()
	for _, queue := range p.queues {
		close(queue)
	}
	p.wg.Wait()
}

func (p *Pool) worker(queue chan job) {
	defer p.wg.Done()
	for j := range queue {
		if _, err := p.manager.Progress(context.Background(), j.instanceID, j.event); err != nil {
			p.logger.Error("event delivery failed",
				"instance_id", j.instanceID,
				"event_id", j.event.ID,
				"event", j.event.Name,
				"error", err,
			)
		}
	}
}

func (p *Pool) pick(instanceID string) int {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return int(h.Sum32() % uint32(len(p.queues)))
}
