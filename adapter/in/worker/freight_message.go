package worker

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	JobIngest    JobType = "freight.ingest"
	JobReprocess JobType = "freight.reprocess"
	JobReconcile JobType = "freight.reconcile"
)

// Message is a unit of work for the pool. Payload is the raw job JSON.
type Message struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Retries   int             `json:"retries"`

	// done, when set, receives the final result and disables in-pool retry.
	// Stream jobs use it so redelivery stays with the stream.
	done chan error
}

func NewMessage(jobType JobType, payload []byte) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// NewTrackedMessage creates a message whose result is reported on the returned channel.
func NewTrackedMessage(jobType JobType, payload []byte) (*Message, <-chan error) {
	msg := NewMessage(jobType, payload)
	msg.done = make(chan error, 1)
	return msg, msg.done
}

func (m *Message) finish(err error) {
	if m.done != nil {
		m.done <- err
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
