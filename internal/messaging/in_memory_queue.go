package messaging

import (
	"context"
	"encoding/json"
	"sync"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is both the publisher and the receiver for single process
// deployments. Publishing never waits for a consumer: tasks are held in an
// unbounded backlog and handed to Tasks() in publish order. After Close the
// backlog is still drained before the channel is closed.
type InMemoryQueue struct {
	mu      sync.Mutex
	backlog []Task
	closed  bool

	wake  chan struct{}
	tasks chan Task
}

func NewInMemoryQueue() *InMemoryQueue {
	q := &InMemoryQueue{
		wake:  make(chan struct{}, 1),
		tasks: make(chan Task),
	}
	go q.dispatch()
	return q
}

func (q *InMemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				close(q.tasks)
				return
			}
			<-q.wake
			continue
		}
		next := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		q.tasks <- next
	}
}

func (q *InMemoryQueue) publishTaskInternal(ctx context.Context, queue string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.backlog = append(q.backlog, &inMemoryTask{queue: queue, payload: data})
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *InMemoryQueue) PublishCrackTask(ctx context.Context, payload CrackTaskPayload) error {
	return q.publishTaskInternal(ctx, CrackQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}
