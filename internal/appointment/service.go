package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/dental-patient-flow/internal/config"
	redisclient "github.com/hackgods/dental-patient-flow/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventStatusChanged      = "APPOINTMENT_STATUS_CHANGED"
	EventQueueEntryCreated  = "QUEUE_ENTRY_CREATED"
	EventPatientAssigned    = "PATIENT_ASSIGNED"
	EventTreatmentCompleted = "TREATMENT_COMPLETED"
)

var (
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrQueueEntryNotInTreatment = errors.New("queue entry is not in treatment")
	ErrAssignmentInProgress     = errors.New("assignment is already running for this location, please retry")
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cfg      config.Config
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	inst     *instruments
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly so tests can move across days.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the core. locker may be nil, in which case assignment is
// serialized by the repository transaction alone.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	s := &Service{
		repo:     repo,
		locker:   locker,
		cfg:      cfg,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	inst, err := newInstruments()
	if err != nil {
		s.logger.Warn("metric instruments unavailable", slog.Any("error", err))
	}
	s.inst = inst
	return s
}

// Today is the current operating day in the clinic timezone.
func (s *Service) Today() time.Time {
	return DayOf(s.now(), s.cfg.Timezone)
}

// TransitionTo moves an appointment to target with its side effects in one
// transaction. An illegal target is an expected outcome reported as false
// with a nil error and leaves every record unchanged.
func (s *Service) TransitionTo(ctx context.Context, id uuid.UUID, target Status, reason string) (bool, error) {
	ctx, span := s.inst.tracer.Start(ctx, "appointment.TransitionTo", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.target", string(target)),
	))
	defer span.End()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return false, spanError(span, fmt.Errorf("load appointment: %w", err))
	}

	var result *applied
	err = s.repo.InTx(ctx, current.Location, func(ctx context.Context, tx Tx) error {
		a, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		entry, err := findEntry(ctx, tx, id)
		if err != nil {
			return err
		}

		plan, ok := PlanTransition(*a, target, s.now(), entry)
		if !ok {
			return nil
		}
		result, err = s.apply(ctx, tx, plan, reason)
		return err
	})
	if err != nil {
		return false, spanError(span, err)
	}

	s.inst.transition(ctx, target, result != nil)
	if result == nil {
		span.SetAttributes(attribute.Bool("appointment.accepted", false))
		return false, nil
	}
	s.publish(ctx, result)
	return true, nil
}

// CompletionResult reports the finished entry and, when auto-assignment is
// enabled, the patient that took over the freed resources.
type CompletionResult struct {
	Completed QueueEntry
	Next      *QueueEntry
}

// CompleteTreatment finishes an in-treatment entry: the entry is archived,
// its room and dentist are released and the appointment moves to completed,
// which cascades to feedback_scheduled.
func (s *Service) CompleteTreatment(ctx context.Context, entryID uuid.UUID) (*CompletionResult, error) {
	ctx, span := s.inst.tracer.Start(ctx, "appointment.CompleteTreatment", trace.WithAttributes(
		attribute.String("queue_entry.id", entryID.String()),
	))
	defer span.End()

	entry, err := s.repo.GetQueueEntryByID(ctx, entryID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("load queue entry: %w", err))
	}

	var result *applied
	err = s.repo.InTx(ctx, entry.Location, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockQueueEntry(ctx, entryID)
		if err != nil {
			return fmt.Errorf("lock queue entry: %w", err)
		}
		if locked.QueueStatus != QueueInTreatment {
			return ErrQueueEntryNotInTreatment
		}

		a, err := tx.LockAppointment(ctx, locked.AppointmentID)
		if err != nil {
			return fmt.Errorf("lock appointment %s: %w", locked.AppointmentID, err)
		}
		plan, ok := PlanTransition(*a, StatusCompleted, s.now(), locked)
		if !ok {
			return fmt.Errorf("appointment %s in status %s: %w", a.ID, a.Status, ErrInvalidStatusTransition)
		}
		result, err = s.apply(ctx, tx, plan, "treatment completed")
		return err
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	s.inst.transition(ctx, StatusCompleted, true)
	s.inst.completion(ctx, entry.Location)
	s.publish(ctx, result)

	out := &CompletionResult{Completed: *result.entry}
	if !s.cfg.AutoAssignOnComplete {
		return out, nil
	}

	next, err := s.AssignNextPatient(ctx, entry.Location)
	if err != nil {
		// the completion is committed, the next patient will be picked up by
		// the worker or a manual assign
		s.logger.WarnContext(ctx, "follow-up assignment failed",
			slog.String("location", entry.Location),
			slog.Any("error", err),
		)
		return out, nil
	}
	out.Next = next
	return out, nil
}

// AssignNextPatient binds the head of the location's waiting queue to a free
// room and dentist. It returns nil with a nil error when the queue is empty
// or a resource is missing, in which case nothing was written.
func (s *Service) AssignNextPatient(ctx context.Context, location string) (*QueueEntry, error) {
	ctx, span := s.inst.tracer.Start(ctx, "appointment.AssignNextPatient", trace.WithAttributes(
		attribute.String("clinic.location", location),
	))
	defer span.End()

	var (
		result  *applied
		outcome string
	)
	run := func(ctx context.Context) error {
		var err error
		result, outcome, err = s.assign(ctx, location)
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLocationLock(ctx, location, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.inst.assignment(ctx, location, outcomeBusy)
		return nil, ErrAssignmentInProgress
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("assign next patient at %s: %w", location, err))
	}

	s.inst.assignment(ctx, location, outcome)
	span.SetAttributes(attribute.String("assignment.outcome", outcome))
	if result == nil {
		s.logger.DebugContext(ctx, "no assignment", slog.String("location", location), slog.String("outcome", outcome))
		return nil, nil
	}

	s.logger.InfoContext(ctx, "patient assigned",
		slog.String("location", location),
		slog.String("appointment_id", result.appointment.ID.String()),
		slog.Int("queue_number", result.entry.QueueNumber),
		slog.String("room", deref(result.appointment.Room)),
	)
	s.inst.transition(ctx, StatusInTreatment, true)
	s.publish(ctx, result)
	return result.entry, nil
}

func (s *Service) assign(ctx context.Context, location string) (*applied, string, error) {
	var (
		result  *applied
		outcome string
	)
	err := s.repo.InTx(ctx, location, func(ctx context.Context, tx Tx) error {
		entry, err := tx.LockNextWaiting(ctx, location)
		if errors.Is(err, ErrQueueEntryNotFound) {
			outcome = outcomeEmpty
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock next waiting: %w", err)
		}

		a, err := tx.LockAppointment(ctx, entry.AppointmentID)
		if err != nil {
			return fmt.Errorf("lock appointment %s: %w", entry.AppointmentID, err)
		}

		registry := NewRegistry(tx)
		room, err := registry.FindAvailableRoom(ctx, location)
		if err != nil {
			return err
		}
		if room == nil {
			outcome = outcomeNoRoom
			return nil
		}
		dentist, err := registry.FindAvailableDentist(ctx, location, a.DentistID)
		if err != nil {
			return err
		}
		if dentist == nil {
			outcome = outcomeNoDentist
			return nil
		}

		plan, ok := PlanAssignment(*entry, *a, *room, *dentist, s.now())
		if !ok {
			outcome = outcomeRejected
			return nil
		}
		result, err = s.apply(ctx, tx, plan, "assigned from queue")
		if err != nil {
			return err
		}
		outcome = outcomeAssigned
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return result, outcome, nil
}

// StartTreatment is the staff override into in_treatment: the patient's
// waiting entry is bound to the given room and dentist, skipping the queue
// order. The resources are claimed exactly as AssignNextPatient claims them,
// so a taken room or dentist fails with ErrResourceUnavailable. A patient
// without a waiting entry fails with ErrInvalidStatusTransition.
func (s *Service) StartTreatment(ctx context.Context, appointmentID, roomID, dentistID uuid.UUID, reason string) (*QueueEntry, error) {
	ctx, span := s.inst.tracer.Start(ctx, "appointment.StartTreatment", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID.String()),
		attribute.String("room.id", roomID.String()),
		attribute.String("dentist.id", dentistID.String()),
	))
	defer span.End()

	current, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("load appointment: %w", err))
	}
	location := current.Location

	var result *applied
	err = s.repo.InTx(ctx, location, func(ctx context.Context, tx Tx) error {
		a, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		entry, err := findEntry(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if entry == nil || entry.QueueStatus != QueueWaiting || !queueable(a.Status) {
			return fmt.Errorf("start treatment for appointment %s in status %s: %w", a.ID, a.Status, ErrInvalidStatusTransition)
		}

		registry := NewRegistry(tx)
		room, err := registry.ReserveRoom(ctx, location, roomID)
		if err != nil {
			return err
		}
		dentist, err := registry.ReserveDentist(ctx, location, dentistID)
		if err != nil {
			return err
		}

		// staff may hand the patient to a dentist other than the booked one
		override := *a
		override.DentistID = nil
		plan, ok := PlanAssignment(*entry, override, *room, *dentist, s.now())
		if !ok {
			return fmt.Errorf("start treatment for appointment %s: %w", a.ID, ErrInvalidStatusTransition)
		}
		result, err = s.apply(ctx, tx, plan, reason)
		return err
	})
	if err != nil {
		s.inst.transition(ctx, StatusInTreatment, false)
		return nil, spanError(span, err)
	}

	s.logger.InfoContext(ctx, "treatment started by staff",
		slog.String("location", location),
		slog.String("appointment_id", appointmentID.String()),
		slog.Int("queue_number", result.entry.QueueNumber),
		slog.String("room", deref(result.appointment.Room)),
		slog.String("reason", reason),
	)
	s.inst.transition(ctx, StatusInTreatment, true)
	s.publish(ctx, result)
	return result.entry, nil
}

// GetQueueStats counts today's ledger entries at location by queue status.
// Waiting entries of cancelled patients are left out.
func (s *Service) GetQueueStats(ctx context.Context, location string) (QueueStats, error) {
	stats, err := s.repo.CountQueue(ctx, location, s.Today())
	if err != nil {
		return QueueStats{}, fmt.Errorf("count queue: %w", err)
	}
	return stats, nil
}

// ListQueue returns the ledger of day at location in arrival order. A zero
// day means today.
func (s *Service) ListQueue(ctx context.Context, location string, day time.Time) ([]QueueItem, error) {
	if day.IsZero() {
		day = s.Today()
	}
	items, err := s.repo.ListQueue(ctx, location, day)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return items, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *Service) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, err := s.repo.GetQueueEntryByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

// applied is what a committed plan changed, used for notifications.
type applied struct {
	plan        Plan
	appointment Appointment
	entry       *QueueEntry
	entryNew    bool
}

// apply persists a plan inside tx: effects first, then the appointment row,
// then one audit event per status step.
func (s *Service) apply(ctx context.Context, tx Tx, plan Plan, reason string) (*applied, error) {
	registry := NewRegistry(tx)
	ledger := NewLedger(tx)
	res := &applied{plan: plan, appointment: plan.Appointment}

	for _, eff := range plan.Effects {
		var err error
		switch eff.Kind {
		case EffectEnsureQueueEntry:
			res.entry, res.entryNew, err = ledger.EnsureEntry(ctx, plan.Appointment, eff.At, DayOf(eff.At, s.cfg.Timezone))
		case EffectCallQueueEntry:
			res.entry, err = ledger.Call(ctx, eff.QueueEntryID, eff.RoomID, eff.DentistID, eff.At)
		case EffectCompleteQueueEntry:
			res.entry, err = ledger.Complete(ctx, eff.QueueEntryID, eff.At)
		case EffectOccupyRoom:
			err = registry.Occupy(ctx, eff.RoomID)
		case EffectReleaseRoom:
			err = registry.Release(ctx, eff.RoomID)
		case EffectMarkDentistBusy:
			err = registry.MarkBusy(ctx, eff.DentistID)
		case EffectMarkDentistAvailable:
			err = registry.MarkAvailable(ctx, eff.DentistID)
		default:
			err = fmt.Errorf("unknown effect %q", eff.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", eff.Kind, err)
		}
	}

	a := plan.Appointment
	if err := tx.UpdateAppointment(ctx, &a); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	res.appointment = a

	if res.entry == nil {
		entry, err := findEntry(ctx, tx, a.ID)
		if err != nil {
			return nil, err
		}
		res.entry = entry
	}

	from := plan.From
	for _, to := range plan.Steps {
		if err := s.logEvent(ctx, tx, a.ID, EventStatusChanged, map[string]any{
			"from":   from,
			"to":     to,
			"reason": reason,
		}); err != nil {
			return nil, err
		}
		from = to
	}
	for _, eff := range plan.Effects {
		switch eff.Kind {
		case EffectCallQueueEntry:
			err := s.logEvent(ctx, tx, a.ID, EventPatientAssigned, map[string]any{
				"queue_entry_id": eff.QueueEntryID,
				"queue_number":   res.entry.QueueNumber,
				"room_id":        eff.RoomID,
				"room":           deref(a.Room),
				"dentist_id":     eff.DentistID,
			})
			if err != nil {
				return nil, err
			}
		case EffectCompleteQueueEntry:
			err := s.logEvent(ctx, tx, a.ID, EventTreatmentCompleted, map[string]any{
				"queue_entry_id": eff.QueueEntryID,
				"queue_number":   res.entry.QueueNumber,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	if res.entryNew {
		if err := s.logEvent(ctx, tx, a.ID, EventQueueEntryCreated, map[string]any{
			"queue_entry_id": res.entry.ID,
			"queue_number":   res.entry.QueueNumber,
			"queue_date":     res.entry.QueueDate.Format(time.DateOnly),
		}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) logEvent(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event payload", slog.String("event", eventType), slog.Any("error", err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

// publish sends the notifications for a committed change.
func (s *Service) publish(ctx context.Context, res *applied) {
	if res == nil || res.entry == nil {
		return
	}
	at := s.now()
	for _, step := range res.plan.Steps {
		var kind string
		switch step {
		case StatusCheckedIn:
			kind = NotifyCheckedIn
		case StatusInTreatment:
			kind = NotifyCalled
		case StatusCompleted:
			kind = NotifyCompleted
		default:
			continue
		}
		n := newNotification(kind, res.appointment, *res.entry, at)
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.WarnContext(ctx, "notification failed",
				slog.String("type", kind),
				slog.String("appointment_id", res.appointment.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

func findEntry(ctx context.Context, tx Tx, appointmentID uuid.UUID) (*QueueEntry, error) {
	entry, err := tx.GetQueueEntryByAppointment(ctx, appointmentID)
	if errors.Is(err, ErrQueueEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue entry: %w", err)
	}
	return entry, nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
