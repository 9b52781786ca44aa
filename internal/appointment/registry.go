package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrResourceUnavailable is returned when a room or dentist is claimed while
// it is already in use.
var ErrResourceUnavailable = errors.New("resource unavailable")

// Registry is the bookkeeping over rooms and dentists inside one
// transaction. It never changes appointment state.
type Registry struct {
	tx Tx
}

func NewRegistry(tx Tx) *Registry {
	return &Registry{tx: tx}
}

// FindAvailableRoom returns the active free room with the lowest label, or
// nil when every room at location is busy or inactive.
func (r *Registry) FindAvailableRoom(ctx context.Context, location string) (*Room, error) {
	room, err := r.tx.LockAvailableRoom(ctx, location)
	if errors.Is(err, ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find available room: %w", err)
	}
	return room, nil
}

// FindAvailableDentist honours a specific preference strictly: when
// preferred is set only that dentist qualifies. Otherwise the free dentist
// with the lowest id is chosen.
func (r *Registry) FindAvailableDentist(ctx context.Context, location string, preferred *uuid.UUID) (*Dentist, error) {
	dentist, err := r.tx.LockAvailableDentist(ctx, location, preferred)
	if errors.Is(err, ErrDentistNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find available dentist: %w", err)
	}
	return dentist, nil
}

// ReserveRoom locks a room chosen by staff. The room must belong to
// location and be active and free, otherwise ErrResourceUnavailable.
func (r *Registry) ReserveRoom(ctx context.Context, location string, id uuid.UUID) (*Room, error) {
	room, err := r.tx.LockRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock room %s: %w", id, err)
	}
	if room.Location != location || !room.IsActive || room.Status != RoomAvailable {
		return nil, fmt.Errorf("room %s: %w", room.Label, ErrResourceUnavailable)
	}
	return room, nil
}

func (r *Registry) ReserveDentist(ctx context.Context, location string, id uuid.UUID) (*Dentist, error) {
	dentist, err := r.tx.LockDentist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock dentist %s: %w", id, err)
	}
	if dentist.Location != location || !dentist.Available {
		return nil, fmt.Errorf("dentist %s: %w", dentist.Name, ErrResourceUnavailable)
	}
	return dentist, nil
}

func (r *Registry) Occupy(ctx context.Context, roomID uuid.UUID) error {
	ok, err := r.tx.OccupyRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("occupy room %s: %w", roomID, err)
	}
	if !ok {
		return fmt.Errorf("occupy room %s: %w", roomID, ErrResourceUnavailable)
	}
	return nil
}

// Release is idempotent: releasing a free room is not an error.
func (r *Registry) Release(ctx context.Context, roomID uuid.UUID) error {
	if err := r.tx.ReleaseRoom(ctx, roomID); err != nil {
		return fmt.Errorf("release room %s: %w", roomID, err)
	}
	return nil
}

func (r *Registry) MarkBusy(ctx context.Context, dentistID uuid.UUID) error {
	ok, err := r.tx.MarkDentistBusy(ctx, dentistID)
	if err != nil {
		return fmt.Errorf("mark dentist %s busy: %w", dentistID, err)
	}
	if !ok {
		return fmt.Errorf("mark dentist %s busy: %w", dentistID, ErrResourceUnavailable)
	}
	return nil
}

func (r *Registry) MarkAvailable(ctx context.Context, dentistID uuid.UUID) error {
	if err := r.tx.MarkDentistAvailable(ctx, dentistID); err != nil {
		return fmt.Errorf("mark dentist %s available: %w", dentistID, err)
	}
	return nil
}
