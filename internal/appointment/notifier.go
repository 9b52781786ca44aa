package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	NotifyCheckedIn = "patient.checked_in"
	NotifyCalled    = "patient.called"
	NotifyCompleted = "treatment.completed"
)

// Notification is published after the transaction that produced it commits.
type Notification struct {
	Type          string     `json:"type"`
	Location      string     `json:"location"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	QueueEntryID  uuid.UUID  `json:"queue_entry_id"`
	QueueNumber   int        `json:"queue_number"`
	PatientName   string     `json:"patient_name"`
	Room          string     `json:"room,omitempty"`
	DentistID     *uuid.UUID `json:"dentist_id,omitempty"`
	At            time.Time  `json:"at"`
}

// Notifier is the outbound sink for waiting room displays and messaging.
// Failures are logged by the caller and never undo the committed change.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ChannelNotifier publishes notifications as JSON on a per location channel
// named "<prefix>:<location>:queue".
type ChannelNotifier struct {
	pub    Publisher
	prefix string
}

func NewChannelNotifier(pub Publisher, prefix string) *ChannelNotifier {
	if prefix == "" {
		prefix = "clinic"
	}
	return &ChannelNotifier{pub: pub, prefix: prefix}
}

func (c *ChannelNotifier) Channel(location string) string {
	return fmt.Sprintf("%s:%s:queue", c.prefix, location)
}

func (c *ChannelNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.pub.Publish(ctx, c.Channel(n.Location), data)
}

func newNotification(kind string, a Appointment, e QueueEntry, at time.Time) Notification {
	n := Notification{
		Type:          kind,
		Location:      a.Location,
		AppointmentID: a.ID,
		QueueEntryID:  e.ID,
		QueueNumber:   e.QueueNumber,
		PatientName:   a.PatientName,
		DentistID:     a.DentistID,
		At:            at,
	}
	if a.Room != nil {
		n.Room = *a.Room
	}
	return n
}
