package appointment

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueWaiting     QueueStatus = "waiting"
	QueueInTreatment QueueStatus = "in_treatment"
	QueueCompleted   QueueStatus = "completed"
)

type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomOccupied  RoomStatus = "occupied"
)

// Treatment is a bookable clinic service. Its duration sizes booking slots.
type Treatment struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	CreatedAt       time.Time
}

func (t Treatment) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

type Room struct {
	ID        uuid.UUID
	Location  string
	Label     string
	IsActive  bool
	Status    RoomStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Dentist struct {
	ID        uuid.UUID
	Location  string
	Name      string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID           uuid.UUID
	Location     string
	ServiceID    uuid.UUID
	DentistID    *uuid.UUID // nil means any available dentist
	PatientName  string
	PatientPhone string // E.164
	VisitCode    string

	Date      time.Time     // calendar day, midnight UTC
	StartTime time.Duration // offset from midnight, clinic local time

	Status             Status
	Room               *string
	CheckedInAt        *time.Time
	TreatmentStartedAt *time.Time
	TreatmentEndedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartsAt resolves the booked date and time in the clinic timezone.
func (a Appointment) StartsAt(tz *time.Location) time.Time {
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz).Add(a.StartTime)
}

type QueueEntry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Location      string
	QueueDate     time.Time
	QueueNumber   int
	QueueStatus   QueueStatus
	RoomID        *uuid.UUID
	DentistID     *uuid.UUID
	CheckInTime   time.Time
	CalledAt      *time.Time
	CompletedAt   *time.Time
}

// QueueItem is a ledger entry joined with its appointment, as shown on the
// waiting room board.
type QueueItem struct {
	Entry       QueueEntry
	Appointment Appointment
}

type QueueStats struct {
	Waiting     int `json:"waiting"`
	InTreatment int `json:"in_treatment"`
	Completed   int `json:"completed"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DayOf returns the operating day containing t in the clinic timezone,
// normalised to midnight UTC so it compares equal to DATE columns.
func DayOf(t time.Time, tz *time.Location) time.Time {
	y, m, d := t.In(tz).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
