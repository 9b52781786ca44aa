package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errUniqueViolation = errors.New("unique constraint violated")

// MemoryRepository keeps everything in process. It honours the same
// transactional contract as PgRepository: InTx serializes per location and
// rolls back every write of a failed transaction. Used by tests and by
// clinicctl when no database is configured.
type MemoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	entries      map[uuid.UUID]QueueEntry
	rooms        map[uuid.UUID]Room
	dentists     map[uuid.UUID]Dentist
	treatments   map[uuid.UUID]Treatment
	sequences    map[string]int
	events       []EventLog
	eventSeq     int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		entries:      make(map[uuid.UUID]QueueEntry),
		rooms:        make(map[uuid.UUID]Room),
		dentists:     make(map[uuid.UUID]Dentist),
		treatments:   make(map[uuid.UUID]Treatment),
		sequences:    make(map[string]int),
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

func (r *MemoryRepository) locationLock(location string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[location]
	if !ok {
		l = &sync.Mutex{}
		r.locks[location] = l
	}
	return l
}

func (r *MemoryRepository) InTx(ctx context.Context, location string, fn func(ctx context.Context, tx Tx) error) error {
	l := r.locationLock(location)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Events returns a copy of the audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = copyAppointment(a)
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByVisitCode(_ context.Context, code string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.VisitCode == code {
			a = copyAppointment(a)
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) FindAppointmentByPhone(_ context.Context, location, phone string, day time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Appointment
	for _, a := range r.appointments {
		if a.Location != location || a.PatientPhone != phone || !a.Date.Equal(day) {
			continue
		}
		switch a.Status {
		case StatusBooked, StatusConfirmed, StatusCheckedIn, StatusWaiting:
		default:
			continue
		}
		if found == nil || a.StartTime < found.StartTime {
			a := copyAppointment(a)
			found = &a
		}
	}
	if found == nil {
		return nil, ErrAppointmentNotFound
	}
	return found, nil
}

func (r *MemoryRepository) ListAppointmentsForDay(_ context.Context, location string, day time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appointmentsForDay(location, day), nil
}

func (r *MemoryRepository) appointmentsForDay(location string, day time.Time) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if a.Location == location && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return lessUUID(out[i].ID, out[j].ID)
	})
	return out
}

func (r *MemoryRepository) GetQueueEntryByID(_ context.Context, id uuid.UUID) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListQueue(_ context.Context, location string, day time.Time) ([]QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []QueueItem
	for _, e := range r.entries {
		if e.Location != location || !e.QueueDate.Equal(day) {
			continue
		}
		out = append(out, QueueItem{Entry: e, Appointment: r.appointments[e.AppointmentID]})
	}
	sort.Slice(out, func(i, j int) bool {
		return queueOrder(out[i].Entry, out[j].Entry)
	})
	return out, nil
}

func (r *MemoryRepository) CountQueue(_ context.Context, location string, day time.Time) (QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats QueueStats
	for _, e := range r.entries {
		if e.Location != location || !e.QueueDate.Equal(day) {
			continue
		}
		switch e.QueueStatus {
		case QueueWaiting:
			if !queueable(r.appointments[e.AppointmentID].Status) {
				continue
			}
			stats.Waiting++
		case QueueInTreatment:
			stats.InTreatment++
		case QueueCompleted:
			stats.Completed++
		}
	}
	return stats, nil
}

func (r *MemoryRepository) GetTreatmentByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.treatments[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) ListTreatments(_ context.Context) ([]Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Treatment, 0, len(r.treatments))
	for _, t := range r.treatments {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) CreateTreatment(_ context.Context, t *Treatment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = r.now()
	r.treatments[t.ID] = *t
	return nil
}

func (r *MemoryRepository) ListRooms(_ context.Context, location string) ([]Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Room
	for _, room := range r.rooms {
		if room.Location == location {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return roomOrder(out[i], out[j]) })
	return out, nil
}

func (r *MemoryRepository) CreateRoom(_ context.Context, room *Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rooms {
		if existing.Location == room.Location && existing.Label == room.Label {
			return fmt.Errorf("room %s at %s: %w", room.Label, room.Location, errUniqueViolation)
		}
	}
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	room.Status = RoomAvailable
	room.CreatedAt = r.now()
	room.UpdatedAt = room.CreatedAt
	r.rooms[room.ID] = *room
	return nil
}

func (r *MemoryRepository) SetRoomActive(_ context.Context, id uuid.UUID, active bool) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.IsActive = active
	room.UpdatedAt = r.now()
	r.rooms[id] = room
	return &room, nil
}

func (r *MemoryRepository) GetDentistByID(_ context.Context, id uuid.UUID) (*Dentist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dentists[id]
	if !ok {
		return nil, ErrDentistNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDentists(_ context.Context, location string) ([]Dentist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Dentist
	for _, d := range r.dentists {
		if d.Location == location {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].ID, out[j].ID) })
	return out, nil
}

func (r *MemoryRepository) CreateDentist(_ context.Context, d *Dentist) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Available = true
	d.CreatedAt = r.now()
	d.UpdatedAt = d.CreatedAt
	r.dentists[d.ID] = *d
	return nil
}

func queueOrder(a, b QueueEntry) bool {
	if !a.CheckInTime.Equal(b.CheckInTime) {
		return a.CheckInTime.Before(b.CheckInTime)
	}
	return a.QueueNumber < b.QueueNumber
}

func roomOrder(a, b Room) bool {
	if a.Label != b.Label {
		return a.Label < b.Label
	}
	return lessUUID(a.ID, b.ID)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sequenceKey(location string, day time.Time) string {
	return location + "|" + day.Format(time.DateOnly)
}

// memTx applies writes directly and keeps an undo log for rollback. Rows of
// other locations are never touched by the transaction, so undoing its own
// writes cannot clobber a concurrent transaction.
type memTx struct {
	repo *MemoryRepository
	undo []func()
}

func (t *memTx) rollback() {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return t.repo.GetAppointmentByID(ctx, id)
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = r.now()
	r.appointments[a.ID] = copyAppointment(*a)
	t.undo = append(t.undo, func() { r.appointments[prev.ID] = prev })
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[a.ID]; ok {
		return fmt.Errorf("appointment %s: %w", a.ID, errUniqueViolation)
	}
	for _, existing := range r.appointments {
		if existing.VisitCode == a.VisitCode {
			return fmt.Errorf("visit code %s: %w", a.VisitCode, errUniqueViolation)
		}
	}
	a.CreatedAt = r.now()
	a.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = copyAppointment(*a)
	id := a.ID
	t.undo = append(t.undo, func() { delete(r.appointments, id) })
	return nil
}

func (t *memTx) ListAppointmentsForDay(ctx context.Context, location string, day time.Time) ([]Appointment, error) {
	return t.repo.ListAppointmentsForDay(ctx, location, day)
}

func (t *memTx) GetQueueEntryByAppointment(_ context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.AppointmentID == appointmentID {
			return &e, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (t *memTx) LockQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return t.repo.GetQueueEntryByID(ctx, id)
}

func (t *memTx) LockNextWaiting(_ context.Context, location string) (*QueueEntry, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	var head *QueueEntry
	for _, e := range r.entries {
		if e.Location != location || e.QueueStatus != QueueWaiting {
			continue
		}
		if !queueable(r.appointments[e.AppointmentID].Status) {
			continue
		}
		if head == nil || queueOrder(e, *head) {
			e := e
			head = &e
		}
	}
	if head == nil {
		return nil, ErrQueueEntryNotFound
	}
	return head, nil
}

func (t *memTx) InsertQueueEntry(_ context.Context, e *QueueEntry) (bool, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if existing.AppointmentID == e.AppointmentID {
			return false, nil
		}
		if existing.Location == e.Location && existing.QueueDate.Equal(e.QueueDate) && existing.QueueNumber == e.QueueNumber {
			return false, fmt.Errorf("queue number %d: %w", e.QueueNumber, errUniqueViolation)
		}
	}
	r.entries[e.ID] = *e
	id := e.ID
	t.undo = append(t.undo, func() { delete(r.entries, id) })
	return true, nil
}

func (t *memTx) UpdateQueueEntry(_ context.Context, e *QueueEntry) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.entries[e.ID]
	if !ok {
		return ErrQueueEntryNotFound
	}
	if e.QueueStatus == QueueInTreatment {
		for _, other := range r.entries {
			if other.ID == e.ID || other.QueueStatus != QueueInTreatment {
				continue
			}
			if sameID(other.RoomID, e.RoomID) || sameID(other.DentistID, e.DentistID) {
				return fmt.Errorf("queue entry %s in treatment: %w", e.ID, errUniqueViolation)
			}
		}
	}
	r.entries[e.ID] = *e
	t.undo = append(t.undo, func() { r.entries[prev.ID] = prev })
	return nil
}

func (t *memTx) NextQueueNumber(_ context.Context, location string, day time.Time) (int, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sequenceKey(location, day)
	prev, existed := r.sequences[key]
	r.sequences[key] = prev + 1
	t.undo = append(t.undo, func() {
		if existed {
			r.sequences[key] = prev
		} else {
			delete(r.sequences, key)
		}
	})
	return prev + 1, nil
}

func (t *memTx) LockRoom(_ context.Context, id uuid.UUID) (*Room, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}

func (t *memTx) LockDentist(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	return t.repo.GetDentistByID(ctx, id)
}

func (t *memTx) LockAvailableRoom(_ context.Context, location string) (*Room, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Room
	for _, room := range r.rooms {
		if room.Location != location || !room.IsActive || room.Status != RoomAvailable {
			continue
		}
		if best == nil || roomOrder(room, *best) {
			room := room
			best = &room
		}
	}
	if best == nil {
		return nil, ErrRoomNotFound
	}
	return best, nil
}

func (t *memTx) LockAvailableDentist(_ context.Context, location string, preferred *uuid.UUID) (*Dentist, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if preferred != nil {
		d, ok := r.dentists[*preferred]
		if !ok || d.Location != location || !d.Available {
			return nil, ErrDentistNotFound
		}
		return &d, nil
	}

	var best *Dentist
	for _, d := range r.dentists {
		if d.Location != location || !d.Available {
			continue
		}
		if best == nil || lessUUID(d.ID, best.ID) {
			d := d
			best = &d
		}
	}
	if best == nil {
		return nil, ErrDentistNotFound
	}
	return best, nil
}

func (t *memTx) OccupyRoom(_ context.Context, id uuid.UUID) (bool, error) {
	return t.setRoomStatus(id, RoomOccupied, true)
}

func (t *memTx) ReleaseRoom(_ context.Context, id uuid.UUID) error {
	_, err := t.setRoomStatus(id, RoomAvailable, false)
	return err
}

func (t *memTx) setRoomStatus(id uuid.UUID, status RoomStatus, guarded bool) (bool, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rooms[id]
	if !ok {
		return false, nil
	}
	if guarded && (!prev.IsActive || prev.Status != RoomAvailable) {
		return false, nil
	}
	room := prev
	room.Status = status
	room.UpdatedAt = r.now()
	r.rooms[id] = room
	t.undo = append(t.undo, func() { r.rooms[prev.ID] = prev })
	return true, nil
}

func (t *memTx) MarkDentistBusy(_ context.Context, id uuid.UUID) (bool, error) {
	return t.setDentistAvailable(id, false, true)
}

func (t *memTx) MarkDentistAvailable(_ context.Context, id uuid.UUID) error {
	_, err := t.setDentistAvailable(id, true, false)
	return err
}

func (t *memTx) setDentistAvailable(id uuid.UUID, available, guarded bool) (bool, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.dentists[id]
	if !ok {
		return false, nil
	}
	if guarded && !prev.Available {
		return false, nil
	}
	d := prev
	d.Available = available
	d.UpdatedAt = r.now()
	r.dentists[id] = d
	t.undo = append(t.undo, func() { r.dentists[prev.ID] = prev })
	return true, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	r.eventSeq++
	ev.ID = r.eventSeq
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	id := ev.ID
	t.undo = append(t.undo, func() {
		for i := range r.events {
			if r.events[i].ID == id {
				r.events = append(r.events[:i], r.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func sameID(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

// copyAppointment detaches pointer fields so stored rows never alias a
// caller's value.
func copyAppointment(a Appointment) Appointment {
	if a.DentistID != nil {
		v := *a.DentistID
		a.DentistID = &v
	}
	if a.Room != nil {
		v := *a.Room
		a.Room = &v
	}
	a.CheckedInAt = copyTime(a.CheckedInAt)
	a.TreatmentStartedAt = copyTime(a.TreatmentStartedAt)
	a.TreatmentEndedAt = copyTime(a.TreatmentEndedAt)
	return a
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
