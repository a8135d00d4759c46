package worker

import (
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"
)

// Message is one job pulled from the queue.
type Message struct {
	ID    string
	Queue string
	Data  []byte
}

// Queue is the subset of the job queue the worker needs. A job that is
// consumed but never acked is redelivered once its time-to-run expires.
type Queue interface {
	// Consume long-polls for up to timeout. It returns nil, nil when no job
	// arrived.
	Consume(queue string, ttr, timeout time.Duration) (*Message, error)
	Ack(queue, jobID string) error
	// Publish enqueues data and returns the queue's job id.
	Publish(queue string, data []byte, ttl, delay time.Duration) (string, error)
}

// LmstfyQueue adapts an lmstfy client to Queue.
type LmstfyQueue struct {
	cli   *client.LmstfyClient
	tries uint16
}

// NewLmstfyQueue connects to an lmstfy namespace. tries bounds how many
// times a published job is delivered before lmstfy dead-letters it.
func NewLmstfyQueue(host string, port int, namespace, token string, tries uint16) *LmstfyQueue {
	if tries == 0 {
		tries = 3
	}
	return &LmstfyQueue{
		cli:   client.NewLmstfyClient(host, port, namespace, token),
		tries: tries,
	}
}

func (q *LmstfyQueue) Consume(queue string, ttr, timeout time.Duration) (*Message, error) {
	job, err := q.cli.Consume(queue, uint32(ttr.Seconds()), uint32(timeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return &Message{ID: job.ID, Queue: job.Queue, Data: job.Data}, nil
}

func (q *LmstfyQueue) Ack(queue, jobID string) error {
	if err := q.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}

func (q *LmstfyQueue) Publish(queue string, data []byte, ttl, delay time.Duration) (string, error) {
	jobID, err := q.cli.Publish(queue, data, uint32(ttl.Seconds()), q.tries, uint32(delay.Seconds()))
	if err != nil {
		return "", fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return jobID, nil
}
