package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueEntryNotFound  = errors.New("queue entry not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrDentistNotFound     = errors.New("dentist not found")
	ErrServiceNotFound     = errors.New("service not found")
)

// Repository contains all storage access needed by the service. Reads are
// served outside of a transaction; anything that mutates lifecycle or
// resource state goes through InTx.
type Repository interface {
	// InTx runs fn in a single transaction. Transactions for the same
	// location are serialized; different locations proceed in parallel.
	InTx(ctx context.Context, location string, fn func(ctx context.Context, tx Tx) error) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByVisitCode(ctx context.Context, code string) (*Appointment, error)
	FindAppointmentByPhone(ctx context.Context, location, phone string, day time.Time) (*Appointment, error)
	ListAppointmentsForDay(ctx context.Context, location string, day time.Time) ([]Appointment, error)

	GetQueueEntryByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	ListQueue(ctx context.Context, location string, day time.Time) ([]QueueItem, error)
	// CountQueue counts a waiting entry only while its appointment is still
	// checked_in or waiting.
	CountQueue(ctx context.Context, location string, day time.Time) (QueueStats, error)

	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	ListTreatments(ctx context.Context) ([]Treatment, error)
	CreateTreatment(ctx context.Context, t *Treatment) error

	ListRooms(ctx context.Context, location string) ([]Room, error)
	CreateRoom(ctx context.Context, r *Room) error
	SetRoomActive(ctx context.Context, id uuid.UUID, active bool) (*Room, error)

	GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error)
	ListDentists(ctx context.Context, location string) ([]Dentist, error)
	CreateDentist(ctx context.Context, d *Dentist) error
}

// Tx is the transactional view used by the state machine, the ledger and the
// resource registry. Lock* methods hold the returned row until commit.
type Tx interface {
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertAppointment(ctx context.Context, a *Appointment) error
	ListAppointmentsForDay(ctx context.Context, location string, day time.Time) ([]Appointment, error)

	GetQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error)
	LockQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// LockNextWaiting returns the earliest checked-in waiting entry whose
	// appointment can still be treated, or ErrQueueEntryNotFound.
	LockNextWaiting(ctx context.Context, location string) (*QueueEntry, error)
	// InsertQueueEntry reports false when the appointment already has an entry.
	InsertQueueEntry(ctx context.Context, e *QueueEntry) (bool, error)
	UpdateQueueEntry(ctx context.Context, e *QueueEntry) error
	NextQueueNumber(ctx context.Context, location string, day time.Time) (int, error)

	LockRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	LockDentist(ctx context.Context, id uuid.UUID) (*Dentist, error)
	LockAvailableRoom(ctx context.Context, location string) (*Room, error)
	LockAvailableDentist(ctx context.Context, location string, preferred *uuid.UUID) (*Dentist, error)
	// OccupyRoom and MarkDentistBusy report false when the resource was not
	// free at the time of the write.
	OccupyRoom(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseRoom(ctx context.Context, id uuid.UUID) error
	MarkDentistBusy(ctx context.Context, id uuid.UUID) (bool, error)
	MarkDentistAvailable(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
