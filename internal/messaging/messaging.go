package messaging

import (
	"context"
	"errors"
	"time"
)

const (
	CrackQueue      = "crack_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrQueueClosed = errors.New("queue is closed")

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// CrackTaskPayload asks a worker to crack the hashes uploaded under TaskId.
// The salt travels with the task so the worker never reads it from the API.
type CrackTaskPayload struct {
	TaskId string
	Salt   string
}

type Publisher interface {
	PublishCrackTask(ctx context.Context, payload CrackTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
