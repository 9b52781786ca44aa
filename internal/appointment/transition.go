package appointment

import (
	"time"

	"github.com/google/uuid"
)

type EffectKind string

const (
	EffectEnsureQueueEntry     EffectKind = "ensure_queue_entry"
	EffectCallQueueEntry       EffectKind = "call_queue_entry"
	EffectCompleteQueueEntry   EffectKind = "complete_queue_entry"
	EffectOccupyRoom           EffectKind = "occupy_room"
	EffectReleaseRoom          EffectKind = "release_room"
	EffectMarkDentistBusy      EffectKind = "mark_dentist_busy"
	EffectMarkDentistAvailable EffectKind = "mark_dentist_available"
)

// Effect is a write that must be persisted in the same transaction as the
// appointment it was planned for. Only the ids relevant to Kind are set.
type Effect struct {
	Kind          EffectKind
	AppointmentID uuid.UUID
	QueueEntryID  uuid.UUID
	RoomID        uuid.UUID
	DentistID     uuid.UUID
	At            time.Time
}

// Plan is the outcome of a lifecycle change computed without touching
// storage: the updated appointment, each status it passed through, and the
// effects to persist alongside it.
type Plan struct {
	From        Status
	Appointment Appointment
	Steps       []Status
	Effects     []Effect
}

// PlanTransition moves a by one step to target, applying the status specific
// rules. entry is the appointment's ledger entry, nil when it has none yet.
// The boolean is false when target is not a legal next state or its
// preconditions are not met; a is never modified.
//
// in_treatment is never planned here: entering treatment claims a room and
// a dentist, which only PlanAssignment records.
func PlanTransition(a Appointment, target Status, now time.Time, entry *QueueEntry) (Plan, bool) {
	if target == StatusInTreatment {
		return Plan{}, false
	}
	plan := Plan{From: a.Status, Appointment: a}
	if !plan.step(target, now, entry) {
		return Plan{}, false
	}
	return plan, true
}

// PlanAssignment binds the head of the waiting ledger to room and dentist
// and moves its appointment into treatment. A checked-in appointment passes
// through waiting first.
func PlanAssignment(entry QueueEntry, a Appointment, room Room, dentist Dentist, now time.Time) (Plan, bool) {
	if entry.QueueStatus != QueueWaiting || entry.AppointmentID != a.ID {
		return Plan{}, false
	}
	if !queueable(a.Status) {
		return Plan{}, false
	}
	if a.DentistID != nil && *a.DentistID != dentist.ID {
		return Plan{}, false
	}

	label := room.Label
	dentistID := dentist.ID
	a.Room = &label
	a.DentistID = &dentistID

	plan := Plan{From: a.Status, Appointment: a}
	if a.Status == StatusCheckedIn && !plan.step(StatusWaiting, now, &entry) {
		return Plan{}, false
	}
	if !plan.step(StatusInTreatment, now, &entry) {
		return Plan{}, false
	}

	plan.Effects = append(plan.Effects,
		Effect{Kind: EffectOccupyRoom, RoomID: room.ID, At: now},
		Effect{Kind: EffectMarkDentistBusy, DentistID: dentist.ID, At: now},
		Effect{
			Kind:          EffectCallQueueEntry,
			AppointmentID: a.ID,
			QueueEntryID:  entry.ID,
			RoomID:        room.ID,
			DentistID:     dentist.ID,
			At:            now,
		},
	)
	return plan, true
}

func (p *Plan) step(target Status, now time.Time, entry *QueueEntry) bool {
	a := &p.Appointment
	if !CanTransition(a.Status, target) {
		return false
	}

	switch target {
	case StatusCheckedIn:
		if a.CheckedInAt == nil {
			t := now
			a.CheckedInAt = &t
		}
		if entry == nil {
			p.Effects = append(p.Effects, Effect{
				Kind:          EffectEnsureQueueEntry,
				AppointmentID: a.ID,
				At:            *a.CheckedInAt,
			})
		}

	case StatusInTreatment:
		if a.Room == nil || *a.Room == "" || a.DentistID == nil {
			return false
		}
		t := now
		a.TreatmentStartedAt = &t

	case StatusCompleted:
		t := now
		a.TreatmentEndedAt = &t
		if entry != nil && entry.QueueStatus == QueueInTreatment {
			p.Effects = append(p.Effects, Effect{
				Kind:          EffectCompleteQueueEntry,
				AppointmentID: a.ID,
				QueueEntryID:  entry.ID,
				At:            now,
			})
			if entry.RoomID != nil {
				p.Effects = append(p.Effects, Effect{Kind: EffectReleaseRoom, RoomID: *entry.RoomID, At: now})
			}
			if entry.DentistID != nil {
				p.Effects = append(p.Effects, Effect{Kind: EffectMarkDentistAvailable, DentistID: *entry.DentistID, At: now})
			}
		}
	}

	a.Status = target
	p.Steps = append(p.Steps, target)

	// completion is never left visible to callers, it always advances
	if target == StatusCompleted {
		return p.step(StatusFeedbackScheduled, now, entry)
	}
	return true
}
