package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `a.id, a.location, a.service_id, a.dentist_id, a.patient_name, a.patient_phone,
	a.visit_code, a.appointment_date, a.appointment_time, a.status, a.room,
	a.checked_in_at, a.treatment_started_at, a.treatment_ended_at, a.created_at, a.updated_at`

const queueColumns = `q.id, q.appointment_id, q.location, q.queue_date, q.queue_number, q.queue_status,
	q.room_id, q.dentist_id, q.check_in_time, q.called_at, q.completed_at`

const roomColumns = `id, location, label, is_active, status, created_at, updated_at`

const dentistColumns = `id, location, name, available, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.Location,
		&a.ServiceID,
		&a.DentistID,
		&a.PatientName,
		&a.PatientPhone,
		&a.VisitCode,
		&a.Date,
		&start,
		&a.Status,
		&a.Room,
		&a.CheckedInAt,
		&a.TreatmentStartedAt,
		&a.TreatmentEndedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = time.Duration(start.Microseconds) * time.Microsecond
	return &a, nil
}

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry

	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.Location,
		&e.QueueDate,
		&e.QueueNumber,
		&e.QueueStatus,
		&e.RoomID,
		&e.DentistID,
		&e.CheckInTime,
		&e.CalledAt,
		&e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.Location, &r.Label, &r.IsActive, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanDentist(row pgx.Row) (*Dentist, error) {
	var d Dentist
	err := row.Scan(&d.ID, &d.Location, &d.Name, &d.Available, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDentistNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	err := row.Scan(&t.ID, &t.Name, &t.DurationMinutes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &t, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func timeOfDay(d time.Duration) pgtype.Time {
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}

// Transactions

// InTx begins a transaction and takes a transaction scoped advisory lock on
// the location before running fn, so that assignment, completion and
// check-in numbering for one location are serialized while other locations
// run in parallel.
func (r *PgRepository) InTx(ctx context.Context, location string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "location:"+location); err != nil {
		return fmt.Errorf("lock location %s: %w", location, err)
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Reads

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, r.pool, `WHERE a.id = $1`, id)
}

func (r *PgRepository) GetAppointmentByVisitCode(ctx context.Context, code string) (*Appointment, error) {
	return getAppointment(ctx, r.pool, `WHERE a.visit_code = $1`, code)
}

// FindAppointmentByPhone returns the earliest booking of the day for the
// phone number that can still be checked in.
func (r *PgRepository) FindAppointmentByPhone(ctx context.Context, location, phone string, day time.Time) (*Appointment, error) {
	return getAppointment(ctx, r.pool, `
		WHERE a.location = $1
		  AND a.patient_phone = $2
		  AND a.appointment_date = $3
		  AND a.status IN ('booked', 'confirmed', 'checked_in', 'waiting')
		ORDER BY a.appointment_time
		LIMIT 1
	`, location, phone, day)
}

func (r *PgRepository) ListAppointmentsForDay(ctx context.Context, location string, day time.Time) ([]Appointment, error) {
	return listAppointmentsForDay(ctx, r.pool, location, day)
}

func (r *PgRepository) GetQueueEntryByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries q WHERE q.id = $1`, id)
	return scanQueueEntry(row)
}

func (r *PgRepository) ListQueue(ctx context.Context, location string, day time.Time) ([]QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`, `+appointmentColumns+`
		FROM queue_entries q
		JOIN appointments a ON a.id = q.appointment_id
		WHERE q.location = $1 AND q.queue_date = $2
		ORDER BY q.check_in_time, q.queue_number
	`, location, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []QueueItem
	for rows.Next() {
		var item QueueItem
		var start pgtype.Time
		err := rows.Scan(
			&item.Entry.ID, &item.Entry.AppointmentID, &item.Entry.Location, &item.Entry.QueueDate,
			&item.Entry.QueueNumber, &item.Entry.QueueStatus, &item.Entry.RoomID, &item.Entry.DentistID,
			&item.Entry.CheckInTime, &item.Entry.CalledAt, &item.Entry.CompletedAt,
			&item.Appointment.ID, &item.Appointment.Location, &item.Appointment.ServiceID,
			&item.Appointment.DentistID, &item.Appointment.PatientName, &item.Appointment.PatientPhone,
			&item.Appointment.VisitCode, &item.Appointment.Date, &start, &item.Appointment.Status,
			&item.Appointment.Room, &item.Appointment.CheckedInAt, &item.Appointment.TreatmentStartedAt,
			&item.Appointment.TreatmentEndedAt, &item.Appointment.CreatedAt, &item.Appointment.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		item.Appointment.StartTime = time.Duration(start.Microseconds) * time.Microsecond
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CountQueue(ctx context.Context, location string, day time.Time) (QueueStats, error) {
	var stats QueueStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE q.queue_status = 'waiting' AND a.status IN ('checked_in', 'waiting')),
			COUNT(*) FILTER (WHERE q.queue_status = 'in_treatment'),
			COUNT(*) FILTER (WHERE q.queue_status = 'completed')
		FROM queue_entries q
		JOIN appointments a ON a.id = q.appointment_id
		WHERE q.location = $1 AND q.queue_date = $2
	`, location, day).Scan(&stats.Waiting, &stats.InTreatment, &stats.Completed)
	if err != nil {
		return QueueStats{}, err
	}
	return stats, nil
}

func (r *PgRepository) GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, duration_minutes, created_at FROM services WHERE id = $1`, id)
	return scanTreatment(row)
}

func (r *PgRepository) ListTreatments(ctx context.Context) ([]Treatment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, duration_minutes, created_at FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTreatment)
}

func (r *PgRepository) CreateTreatment(ctx context.Context, t *Treatment) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO services (id, name, duration_minutes)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, t.ID, t.Name, t.DurationMinutes).Scan(&t.CreatedAt)
}

func (r *PgRepository) ListRooms(ctx context.Context, location string) ([]Room, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE location = $1 ORDER BY label, id`, location)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRoom)
}

func (r *PgRepository) CreateRoom(ctx context.Context, room *Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, location, label, is_active, status)
		VALUES ($1, $2, $3, $4, 'available')
		RETURNING `+roomColumns, room.ID, room.Location, room.Label, room.IsActive)
	created, err := scanRoom(row)
	if err != nil {
		return err
	}
	*room = *created
	return nil
}

// SetRoomActive toggles administrative availability. An occupied room keeps
// its occupant; deactivation only stops new assignments.
func (r *PgRepository) SetRoomActive(ctx context.Context, id uuid.UUID, active bool) (*Room, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE rooms SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+roomColumns, id, active)
	return scanRoom(row)
}

func (r *PgRepository) GetDentistByID(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE id = $1`, id)
	return scanDentist(row)
}

func (r *PgRepository) ListDentists(ctx context.Context, location string) ([]Dentist, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE location = $1 ORDER BY id`, location)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDentist)
}

func (r *PgRepository) CreateDentist(ctx context.Context, d *Dentist) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO dentists (id, location, name, available)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+dentistColumns, d.ID, d.Location, d.Name)
	created, err := scanDentist(row)
	if err != nil {
		return err
	}
	*d = *created
	return nil
}

func getAppointment(ctx context.Context, q querier, where string, args ...any) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a `+where, args...)
	return scanAppointment(row)
}

func listAppointmentsForDay(ctx context.Context, q querier, location string, day time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.location = $1 AND a.appointment_date = $2
		ORDER BY a.appointment_time, a.id
	`, location, day)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, t.q, `WHERE a.id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	err := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    dentist_id = $3,
		    room = $4,
		    checked_in_at = $5,
		    treatment_started_at = $6,
		    treatment_ended_at = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Status, a.DentistID, a.Room, a.CheckedInAt, a.TreatmentStartedAt, a.TreatmentEndedAt).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return err
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	return t.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, location, service_id, dentist_id, patient_name, patient_phone,
			visit_code, appointment_date, appointment_time, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, a.ID, a.Location, a.ServiceID, a.DentistID, a.PatientName, a.PatientPhone,
		a.VisitCode, a.Date, timeOfDay(a.StartTime), a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (t *pgTx) ListAppointmentsForDay(ctx context.Context, location string, day time.Time) ([]Appointment, error) {
	return listAppointmentsForDay(ctx, t.q, location, day)
}

func (t *pgTx) GetQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	row := t.q.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries q WHERE q.appointment_id = $1`, appointmentID)
	return scanQueueEntry(row)
}

func (t *pgTx) LockQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := t.q.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries q WHERE q.id = $1 FOR UPDATE`, id)
	return scanQueueEntry(row)
}

func (t *pgTx) LockNextWaiting(ctx context.Context, location string) (*QueueEntry, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries q
		JOIN appointments a ON a.id = q.appointment_id
		WHERE q.location = $1
		  AND q.queue_status = 'waiting'
		  AND a.status IN ('checked_in', 'waiting')
		ORDER BY q.check_in_time, q.queue_number
		LIMIT 1
		FOR UPDATE OF q
	`, location)
	return scanQueueEntry(row)
}

func (t *pgTx) InsertQueueEntry(ctx context.Context, e *QueueEntry) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO queue_entries (
			id, appointment_id, location, queue_date, queue_number, queue_status, check_in_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appointment_id) DO NOTHING
	`, e.ID, e.AppointmentID, e.Location, e.QueueDate, e.QueueNumber, e.QueueStatus, e.CheckInTime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateQueueEntry(ctx context.Context, e *QueueEntry) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE queue_entries
		SET queue_status = $2,
		    room_id = $3,
		    dentist_id = $4,
		    called_at = $5,
		    completed_at = $6
		WHERE id = $1
	`, e.ID, e.QueueStatus, e.RoomID, e.DentistID, e.CalledAt, e.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

// NextQueueNumber bumps the (location, day) counter. The counter row is
// never reset, so numbers stay unique even if entries are archived.
func (t *pgTx) NextQueueNumber(ctx context.Context, location string, day time.Time) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		INSERT INTO queue_sequences (location, queue_date, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (location, queue_date)
		DO UPDATE SET last_number = queue_sequences.last_number + 1
		RETURNING last_number
	`, location, day).Scan(&n)
	return n, err
}

func (t *pgTx) LockRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := t.q.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id)
	return scanRoom(row)
}

func (t *pgTx) LockDentist(ctx context.Context, id uuid.UUID) (*Dentist, error) {
	row := t.q.QueryRow(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE id = $1 FOR UPDATE`, id)
	return scanDentist(row)
}

func (t *pgTx) LockAvailableRoom(ctx context.Context, location string) (*Room, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE location = $1 AND is_active AND status = 'available'
		ORDER BY label, id
		LIMIT 1
		FOR UPDATE
	`, location)
	return scanRoom(row)
}

func (t *pgTx) LockAvailableDentist(ctx context.Context, location string, preferred *uuid.UUID) (*Dentist, error) {
	if preferred != nil {
		row := t.q.QueryRow(ctx, `
			SELECT `+dentistColumns+`
			FROM dentists
			WHERE id = $1 AND location = $2 AND available
			FOR UPDATE
		`, *preferred, location)
		return scanDentist(row)
	}
	row := t.q.QueryRow(ctx, `
		SELECT `+dentistColumns+`
		FROM dentists
		WHERE location = $1 AND available
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, location)
	return scanDentist(row)
}

func (t *pgTx) OccupyRoom(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE rooms SET status = 'occupied', updated_at = now()
		WHERE id = $1 AND is_active AND status = 'available'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ReleaseRoom(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `UPDATE rooms SET status = 'available', updated_at = now() WHERE id = $1`, id)
	return err
}

func (t *pgTx) MarkDentistBusy(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE dentists SET available = FALSE, updated_at = now()
		WHERE id = $1 AND available
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MarkDentistAvailable(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `UPDATE dentists SET available = TRUE, updated_at = now() WHERE id = $1`, id)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
