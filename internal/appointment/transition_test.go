package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planNow = time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

func effectKinds(p Plan) []EffectKind {
	out := make([]EffectKind, 0, len(p.Effects))
	for _, e := range p.Effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestPlanTransition_RejectsIllegalTarget(t *testing.T) {
	a := Appointment{ID: uuid.New(), Status: StatusBooked}

	_, ok := PlanTransition(a, StatusWaiting, planNow, nil)
	assert.False(t, ok)
	assert.Equal(t, StatusBooked, a.Status)
}

func TestPlanTransition_CheckInCreatesEntryOnce(t *testing.T) {
	a := Appointment{ID: uuid.New(), Status: StatusConfirmed}

	plan, ok := PlanTransition(a, StatusCheckedIn, planNow, nil)
	require.True(t, ok)
	assert.Equal(t, []EffectKind{EffectEnsureQueueEntry}, effectKinds(plan))
	assert.Equal(t, StatusCheckedIn, plan.Appointment.Status)
	require.NotNil(t, plan.Appointment.CheckedInAt)
	assert.Equal(t, planNow, *plan.Appointment.CheckedInAt)
	assert.Nil(t, a.CheckedInAt, "input is not modified")

	earlier := planNow.Add(-time.Hour)
	a.CheckedInAt = &earlier
	plan, ok = PlanTransition(a, StatusCheckedIn, planNow, &QueueEntry{ID: uuid.New()})
	require.True(t, ok)
	assert.Empty(t, plan.Effects, "entry already exists")
	assert.Equal(t, earlier, *plan.Appointment.CheckedInAt, "checked_in_at is kept")
}

func TestPlanTransition_InTreatmentOnlyThroughAssignment(t *testing.T) {
	a := Appointment{ID: uuid.New(), Status: StatusWaiting}

	_, ok := PlanTransition(a, StatusInTreatment, planNow, nil)
	assert.False(t, ok)

	a.Room = ptr("R1")
	a.DentistID = ptr(uuid.New())
	_, ok = PlanTransition(a, StatusInTreatment, planNow, &QueueEntry{ID: uuid.New(), QueueStatus: QueueWaiting})
	assert.False(t, ok, "a room label alone claims no room")
}

func TestPlanTransition_CompletedCascades(t *testing.T) {
	roomID, dentistID := uuid.New(), uuid.New()
	a := Appointment{ID: uuid.New(), Status: StatusInTreatment}
	entry := &QueueEntry{ID: uuid.New(), QueueStatus: QueueInTreatment, RoomID: &roomID, DentistID: &dentistID}

	plan, ok := PlanTransition(a, StatusCompleted, planNow, entry)
	require.True(t, ok)
	assert.Equal(t, StatusInTreatment, plan.From)
	assert.Equal(t, []Status{StatusCompleted, StatusFeedbackScheduled}, plan.Steps)
	assert.Equal(t, StatusFeedbackScheduled, plan.Appointment.Status)
	assert.NotNil(t, plan.Appointment.TreatmentEndedAt)
	assert.Equal(t, []EffectKind{
		EffectCompleteQueueEntry,
		EffectReleaseRoom,
		EffectMarkDentistAvailable,
	}, effectKinds(plan))
	assert.Equal(t, roomID, plan.Effects[1].RoomID)
	assert.Equal(t, dentistID, plan.Effects[2].DentistID)
}

func TestPlanTransition_CancelLeavesLedgerAlone(t *testing.T) {
	a := Appointment{ID: uuid.New(), Status: StatusWaiting}

	plan, ok := PlanTransition(a, StatusCancelled, planNow, &QueueEntry{ID: uuid.New(), QueueStatus: QueueWaiting})
	require.True(t, ok)
	assert.Empty(t, plan.Effects)
	assert.Equal(t, StatusCancelled, plan.Appointment.Status)
}

func TestPlanAssignment(t *testing.T) {
	room := Room{ID: uuid.New(), Label: "R2"}
	dentist := Dentist{ID: uuid.New()}
	a := Appointment{ID: uuid.New(), Status: StatusCheckedIn}
	entry := QueueEntry{ID: uuid.New(), AppointmentID: a.ID, QueueStatus: QueueWaiting}

	plan, ok := PlanAssignment(entry, a, room, dentist, planNow)
	require.True(t, ok)
	assert.Equal(t, []Status{StatusWaiting, StatusInTreatment}, plan.Steps)
	assert.Equal(t, "R2", *plan.Appointment.Room)
	assert.Equal(t, dentist.ID, *plan.Appointment.DentistID)
	assert.Equal(t, []EffectKind{EffectOccupyRoom, EffectMarkDentistBusy, EffectCallQueueEntry}, effectKinds(plan))

	call := plan.Effects[2]
	assert.Equal(t, entry.ID, call.QueueEntryID)
	assert.Equal(t, room.ID, call.RoomID)
	assert.Equal(t, dentist.ID, call.DentistID)
	assert.Nil(t, a.Room, "input is not modified")
}

func TestPlanAssignment_Rejections(t *testing.T) {
	room := Room{ID: uuid.New(), Label: "R1"}
	dentist := Dentist{ID: uuid.New()}
	other := uuid.New()

	tests := []struct {
		name   string
		status Status
		queue  QueueStatus
		pref   *uuid.UUID
	}{
		{"entry already called", StatusWaiting, QueueInTreatment, nil},
		{"appointment cancelled", StatusCancelled, QueueWaiting, nil},
		{"appointment only confirmed", StatusConfirmed, QueueWaiting, nil},
		{"different dentist requested", StatusWaiting, QueueWaiting, &other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Appointment{ID: uuid.New(), Status: tt.status, DentistID: tt.pref}
			entry := QueueEntry{ID: uuid.New(), AppointmentID: a.ID, QueueStatus: tt.queue}
			_, ok := PlanAssignment(entry, a, room, dentist, planNow)
			assert.False(t, ok)
		})
	}
}

func TestDayOf(t *testing.T) {
	tz := time.FixedZone("MYT", 8*60*60)

	// 23:30 UTC on the 1st is already the 2nd in the clinic
	day := DayOf(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), tz)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), day)

	a := Appointment{Date: day, StartTime: 9*time.Hour + 30*time.Minute}
	assert.Equal(t, time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC), a.StartsAt(tz).UTC())
}
