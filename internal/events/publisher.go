// Package events publishes stream lifecycle notifications on NATS so
// the dashboard and recorder learn about registrations without polling.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventStreamAdded   = "stream.added"
	EventStreamRemoved = "stream.removed"
	EventSyncCompleted = "sync.completed"
	EventGatewayDown   = "gateway.down"
	EventGatewayUp     = "gateway.up"
)

// StreamEvent is the wire payload for lifecycle notifications.
type StreamEvent struct {
	Type      string    `json:"type"`
	OrgID     string    `json:"organization_id,omitempty"`
	CameraID  string    `json:"camera_id,omitempty"`
	StreamID  string    `json:"stream_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

// Publish sends the event with bounded retry. A nil publisher is a
// no-op so callers don't have to guard the messaging-disabled case.
func (p *Publisher) Publish(event *StreamEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
