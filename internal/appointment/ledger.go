package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger manages the queue entries created at check-in.
type Ledger struct {
	tx Tx
}

func NewLedger(tx Tx) *Ledger {
	return &Ledger{tx: tx}
}

// EnsureEntry returns the appointment's ledger entry, creating it when absent.
// The queue number is drawn from the (location, day) sequence only when a new
// entry is written. A concurrent insert that wins the uniqueness race is
// treated as success.
func (l *Ledger) EnsureEntry(ctx context.Context, a Appointment, checkIn, day time.Time) (*QueueEntry, bool, error) {
	existing, err := l.tx.GetQueueEntryByAppointment(ctx, a.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrQueueEntryNotFound) {
		return nil, false, fmt.Errorf("load queue entry: %w", err)
	}

	number, err := l.tx.NextQueueNumber(ctx, a.Location, day)
	if err != nil {
		return nil, false, fmt.Errorf("next queue number: %w", err)
	}

	entry := &QueueEntry{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		Location:      a.Location,
		QueueDate:     day,
		QueueNumber:   number,
		QueueStatus:   QueueWaiting,
		CheckInTime:   checkIn,
	}
	created, err := l.tx.InsertQueueEntry(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("insert queue entry: %w", err)
	}
	if !created {
		existing, err := l.tx.GetQueueEntryByAppointment(ctx, a.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reload queue entry: %w", err)
		}
		return existing, false, nil
	}
	return entry, true, nil
}

// Call binds a waiting entry to its room and dentist.
func (l *Ledger) Call(ctx context.Context, entryID, roomID, dentistID uuid.UUID, at time.Time) (*QueueEntry, error) {
	entry, err := l.tx.LockQueueEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("lock queue entry: %w", err)
	}
	if entry.QueueStatus != QueueWaiting {
		return nil, fmt.Errorf("call queue entry %s in status %s: %w", entryID, entry.QueueStatus, ErrResourceUnavailable)
	}

	calledAt := at
	entry.RoomID = &roomID
	entry.DentistID = &dentistID
	entry.QueueStatus = QueueInTreatment
	entry.CalledAt = &calledAt
	if err := l.tx.UpdateQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update queue entry: %w", err)
	}
	return entry, nil
}

// Complete archives an in-treatment entry. Room and dentist ids are kept on
// the entry for reporting.
func (l *Ledger) Complete(ctx context.Context, entryID uuid.UUID, at time.Time) (*QueueEntry, error) {
	entry, err := l.tx.LockQueueEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("lock queue entry: %w", err)
	}
	if entry.QueueStatus != QueueInTreatment {
		return nil, fmt.Errorf("complete queue entry %s: %w", entryID, ErrQueueEntryNotInTreatment)
	}

	completedAt := at
	entry.QueueStatus = QueueCompleted
	entry.CompletedAt = &completedAt
	if err := l.tx.UpdateQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update queue entry: %w", err)
	}
	return entry, nil
}
