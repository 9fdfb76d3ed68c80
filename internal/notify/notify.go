// Package notify queues domain events and delivers them to connected
// clients.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	AppointmentBooked   = "appointment.booked"
	AppointmentStatus   = "appointment.status_changed"
	PrescriptionIssued  = "prescription.issued"
	OrderCreated        = "order.created"
	OrderStatus         = "order.status_changed"
	ClaimSubmitted      = "claim.submitted"
	ClaimDecided        = "claim.decided"
	PaymentVerified     = "payment.verified"
	SubscriptionRenewed = "subscription.renewed"
)

// QueueName is the badger queue events wait in
const QueueName = "notifications"

// Event is a notification for one user
type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	UserID   string            `json:"user_id"`
	Subject  string            `json:"subject"`
	Data     map[string]string `json:"data,omitempty"`
	At       time.Time         `json:"at"`
	Attempts int               `json:"attempts,omitempty"`
}

// Queue is the FIFO events are stored in between publish and delivery
type Queue interface {
	Enqueue(queue string, job []byte) error
	Dequeue(queue string) ([]byte, error)
}

// Publisher puts events on the queue
type Publisher struct {
	queue Queue
}

func NewPublisher(q Queue) *Publisher {
	return &Publisher{queue: q}
}

// Publish stamps and enqueues an event
func (p *Publisher) Publish(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.queue.Enqueue(QueueName, data)
}
