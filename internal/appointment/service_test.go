package appointment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-patient-flow/internal/config"
)

func TestService_HappyPath(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	dentist := f.dentist("Dr Aina")
	a := f.book(StatusBooked, nil)

	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusConfirmed, "confirmed by phone")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.TransitionTo(f.ctx, a.ID, StatusCheckedIn, "front desk")
	require.NoError(t, err)
	require.True(t, ok)

	entry := f.entryFor(a.ID)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.QueueNumber)
	assert.Equal(t, QueueWaiting, entry.QueueStatus)
	assert.Equal(t, f.svc.Today(), entry.QueueDate)
	assert.NotNil(t, f.appointment(a.ID).CheckedInAt)

	assigned, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, entry.ID, assigned.ID)
	assert.Equal(t, QueueInTreatment, assigned.QueueStatus)
	assert.Equal(t, room.ID, *assigned.RoomID)
	assert.Equal(t, dentist.ID, *assigned.DentistID)
	assert.NotNil(t, assigned.CalledAt)

	got := f.appointment(a.ID)
	assert.Equal(t, StatusInTreatment, got.Status)
	require.NotNil(t, got.Room)
	assert.Equal(t, "R1", *got.Room)
	require.NotNil(t, got.DentistID)
	assert.Equal(t, dentist.ID, *got.DentistID)
	assert.NotNil(t, got.TreatmentStartedAt)
	assert.Equal(t, RoomOccupied, f.roomStatus(room.ID))
	assert.False(t, f.dentistAvailable(dentist.ID))
	f.assertResourceInvariants()

	f.clock.Advance(30 * time.Minute)
	res, err := f.svc.CompleteTreatment(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueCompleted, res.Completed.QueueStatus)
	assert.NotNil(t, res.Completed.CompletedAt)
	assert.Nil(t, res.Next)

	got = f.appointment(a.ID)
	assert.Equal(t, StatusFeedbackScheduled, got.Status)
	assert.NotNil(t, got.TreatmentEndedAt)
	assert.Equal(t, RoomAvailable, f.roomStatus(room.ID))
	assert.True(t, f.dentistAvailable(dentist.ID))
	f.assertResourceInvariants()

	assert.Equal(t, []string{NotifyCheckedIn, NotifyCalled, NotifyCompleted}, f.notifier.types())
}

func TestService_TransitionsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr Aina")
	a, _ := f.arrive(nil)

	_, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)

	var steps [][2]string
	kinds := map[string]int{}
	for _, ev := range f.repo.Events() {
		kinds[ev.EventType]++
		if ev.EventType != EventStatusChanged {
			continue
		}
		require.NotNil(t, ev.AppointmentID)
		assert.Equal(t, a.ID, *ev.AppointmentID)
		var payload struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		steps = append(steps, [2]string{payload.From, payload.To})
	}

	assert.Equal(t, [][2]string{
		{"booked", "confirmed"},
		{"confirmed", "checked_in"},
		{"checked_in", "waiting"},
		{"waiting", "in_treatment"},
	}, steps)
	assert.Equal(t, 1, kinds[EventQueueEntryCreated])
	assert.Equal(t, 1, kinds[EventPatientAssigned])
}

func TestService_Contention(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	f.dentist("Dr Aina")
	f.dentist("Dr Bala")

	a, entryA := f.arrive(nil)
	b, entryB := f.arrive(nil)
	assert.Equal(t, 1, entryA.QueueNumber)
	assert.Equal(t, 2, entryB.QueueNumber)

	first, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, entryA.ID, first.ID)

	second, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Nil(t, second, "only room is taken")
	assert.Equal(t, QueueWaiting, f.entry(entryB.ID).QueueStatus)
	assert.Equal(t, StatusCheckedIn, f.appointment(b.ID).Status, "b is not touched by the failed attempt")

	_, err = f.svc.CompleteTreatment(f.ctx, entryA.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFeedbackScheduled, f.appointment(a.ID).Status)

	third, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, entryB.ID, third.ID)
	assert.Equal(t, room.ID, *third.RoomID)
	f.assertResourceInvariants()
}

func TestService_CompleteAssignsNextWhenEnabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AutoAssignOnComplete = true })
	f.room("R1")
	f.dentist("Dr Aina")

	_, entryA := f.arrive(nil)
	_, entryB := f.arrive(nil)

	_, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)

	res, err := f.svc.CompleteTreatment(f.ctx, entryA.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, entryB.ID, res.Next.ID)
	assert.Equal(t, QueueInTreatment, f.entry(entryB.ID).QueueStatus)
	f.assertResourceInvariants()
}

func TestService_DentistPreferenceHonored(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.room("R2")
	x := f.dentist("Dr X")
	y := f.dentist("Dr Y")

	_, first := f.arrive(&x.ID)
	pref, waiting := f.arrive(&x.ID)

	assigned, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, first.ID, assigned.ID)
	assert.Equal(t, x.ID, *assigned.DentistID)

	next, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Nil(t, next, "dr Y is free but the patient asked for dr X")
	assert.True(t, f.dentistAvailable(y.ID))

	e := f.entry(waiting.ID)
	assert.Equal(t, QueueWaiting, e.QueueStatus)
	assert.Nil(t, e.RoomID)
	assert.Nil(t, e.DentistID)
	assert.Nil(t, f.appointment(pref.ID).Room)
}

func TestService_AnyDentistPicksLowestID(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	d1 := f.dentist("Dr One")
	d2 := f.dentist("Dr Two")
	want := d1.ID
	if lessUUID(d2.ID, d1.ID) {
		want = d2.ID
	}

	f.arrive(nil)
	assigned, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, want, *assigned.DentistID)
}

func TestService_FIFOIsNonBlocking(t *testing.T) {
	f := newFixture(t)
	r1 := f.room("R1")
	r2 := f.room("R2")
	_, err := f.svc.SetRoomActive(f.ctx, r2.ID, false)
	require.NoError(t, err)
	f.dentist("Dr A")
	f.dentist("Dr B")
	f.dentist("Dr C")

	a1 := f.book(StatusConfirmed, nil)
	a2 := f.book(StatusConfirmed, nil)
	a3 := f.book(StatusConfirmed, nil)
	var entries []QueueEntry
	for _, a := range []Appointment{a1, a2, a3} {
		res, err := f.svc.CheckIn(f.ctx, a.VisitCode)
		require.NoError(t, err)
		entries = append(entries, res.Entry)
		f.clock.Advance(time.Minute)
	}

	got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entries[0].ID, got.ID)
	assert.Equal(t, r1.ID, *got.RoomID)

	_, err = f.svc.SetRoomActive(f.ctx, r2.ID, true)
	require.NoError(t, err)

	got, err = f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, got, "t2 is not blocked by t1 being in treatment")
	assert.Equal(t, entries[1].ID, got.ID)
	assert.Equal(t, r2.ID, *got.RoomID)

	got, err = f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, QueueWaiting, f.entry(entries[2].ID).QueueStatus)
	f.assertResourceInvariants()
}

func TestService_SameCheckInTimeFallsBackToQueueNumber(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")

	a := f.book(StatusConfirmed, nil)
	b := f.book(StatusConfirmed, nil)
	resA, err := f.svc.CheckIn(f.ctx, a.VisitCode)
	require.NoError(t, err)
	resB, err := f.svc.CheckIn(f.ctx, b.VisitCode)
	require.NoError(t, err)
	require.True(t, resA.Entry.CheckInTime.Equal(resB.Entry.CheckInTime))

	got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, resA.Entry.ID, got.ID)
}

func TestService_SafeFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "no rooms",
			setup: func(f *fixture) { f.dentist("Dr A") },
		},
		{
			name: "only inactive rooms",
			setup: func(f *fixture) {
				r := f.room("R1")
				_, err := f.svc.SetRoomActive(f.ctx, r.ID, false)
				require.NoError(f.t, err)
				f.dentist("Dr A")
			},
		},
		{
			name:  "no dentists",
			setup: func(f *fixture) { f.room("R1") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			_, e1 := f.arrive(nil)
			_, e2 := f.arrive(nil)
			events := len(f.repo.Events())

			got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
			require.NoError(t, err)
			assert.Nil(t, got)

			for _, before := range []QueueEntry{e1, e2} {
				after := f.entry(before.ID)
				assert.Equal(t, QueueWaiting, after.QueueStatus)
				assert.Nil(t, after.RoomID)
				assert.Nil(t, after.DentistID)
				assert.Nil(t, after.CalledAt)
			}
			assert.Len(t, f.repo.Events(), events)
			f.assertResourceInvariants()
		})
	}
}

func TestService_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")

	got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_CheckInIsIdempotent(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		f := newFixture(t)
		a := f.book(StatusConfirmed, nil)

		accepted := 0
		for i := 0; i < n; i++ {
			ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusCheckedIn, "double click")
			require.NoError(t, err)
			if ok {
				accepted++
			}
		}

		assert.Equal(t, 1, accepted, "n=%d", n)
		assert.Equal(t, 1, f.entryCount(), "n=%d", n)
		assert.Equal(t, StatusCheckedIn, f.appointment(a.ID).Status)

		// the sequence was bumped exactly once
		_, next := f.arrive(nil)
		assert.Equal(t, 2, next.QueueNumber, "n=%d", n)
	}
}

func TestService_CheckInDoesNotDuplicateAfterWaiting(t *testing.T) {
	f := newFixture(t)
	a, entry := f.arrive(nil)

	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusWaiting, "moved to lounge")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.TransitionTo(f.ctx, a.ID, StatusCheckedIn, "retry")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := f.svc.CheckIn(f.ctx, a.VisitCode)
	require.NoError(t, err)
	assert.True(t, res.AlreadyCheckedIn)
	assert.Equal(t, entry.ID, res.Entry.ID)
	assert.Equal(t, 1, f.entryCount())
}

func TestService_TerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []Status{StatusCancelled, StatusNoShow, StatusFeedbackSent} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			a := f.book(terminal, nil)

			for _, target := range allStatuses {
				ok, err := f.svc.TransitionTo(f.ctx, a.ID, target, "try anyway")
				require.NoError(t, err)
				assert.False(t, ok, "%s -> %s", terminal, target)
			}
			assert.Equal(t, a.Status, f.appointment(a.ID).Status)
			assert.Empty(t, f.repo.Events())
		})
	}
}

func TestService_InvalidTransitionLeavesAppointmentUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.book(StatusBooked, nil)

	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusInTreatment, "skip ahead")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.TransitionTo(f.ctx, a.ID, Status("teleported"), "nonsense")
	require.NoError(t, err)
	assert.False(t, ok)

	got := f.appointment(a.ID)
	assert.Equal(t, StatusBooked, got.Status)
	assert.Nil(t, got.TreatmentStartedAt)
	assert.Equal(t, 0, f.entryCount())
}

func TestService_TransitionUnknownAppointment(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.TransitionTo(f.ctx, uuid.New(), StatusConfirmed, "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestService_DirectInTreatmentIsRefused(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	d := f.dentist("Dr A")
	a, entry := f.arrive(nil)
	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusWaiting, "lounge")
	require.NoError(t, err)
	require.True(t, ok)

	// a room label written by hand does not claim the room
	err = f.repo.InTx(f.ctx, testLocation, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockAppointment(ctx, a.ID)
		if err != nil {
			return err
		}
		locked.Room = ptr("R1")
		locked.DentistID = &d.ID
		return tx.UpdateAppointment(ctx, locked)
	})
	require.NoError(t, err)

	ok, err = f.svc.TransitionTo(f.ctx, a.ID, StatusInTreatment, "manual override")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StatusWaiting, f.appointment(a.ID).Status)
	assert.Equal(t, QueueWaiting, f.entry(entry.ID).QueueStatus)
	f.assertResourceInvariants()
}

func TestService_StartTreatmentClaimsResources(t *testing.T) {
	f := newFixture(t)
	r1 := f.room("R1")
	r2 := f.room("R2")
	d := f.dentist("Dr A")
	e := f.dentist("Dr B")

	_, entryA := f.arrive(nil)
	b, entryB := f.arrive(nil)

	// B is seen first, out of queue order, in the second room
	started, err := f.svc.StartTreatment(f.ctx, b.ID, r2.ID, d.ID, "emergency")
	require.NoError(t, err)
	assert.Equal(t, entryB.ID, started.ID)
	assert.Equal(t, QueueInTreatment, started.QueueStatus)
	assert.Equal(t, r2.ID, *started.RoomID)
	assert.Equal(t, d.ID, *started.DentistID)

	got := f.appointment(b.ID)
	assert.Equal(t, StatusInTreatment, got.Status)
	assert.Equal(t, "R2", *got.Room)
	assert.NotNil(t, got.TreatmentStartedAt)
	assert.Equal(t, RoomOccupied, f.roomStatus(r2.ID))
	assert.False(t, f.dentistAvailable(d.ID))
	f.assertResourceInvariants()

	// the engine only has R1 and Dr B left for A
	next, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, entryA.ID, next.ID)
	assert.Equal(t, r1.ID, *next.RoomID)
	assert.Equal(t, e.ID, *next.DentistID)
	f.assertResourceInvariants()

	assert.Equal(t, []string{NotifyCheckedIn, NotifyCheckedIn, NotifyCalled, NotifyCalled}, f.notifier.types())
}

func TestService_StartTreatmentKeepsRoomExclusive(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	d := f.dentist("Dr A")

	a, _ := f.arrive(nil)
	_, err := f.svc.StartTreatment(f.ctx, a.ID, room.ID, d.ID, "walk straight in")
	require.NoError(t, err)

	b, entryB := f.arrive(nil)
	next, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Nil(t, next, "room and dentist are with A")

	_, err = f.svc.StartTreatment(f.ctx, b.ID, room.ID, d.ID, "again")
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, QueueWaiting, f.entry(entryB.ID).QueueStatus)
	assert.Equal(t, StatusCheckedIn, f.appointment(b.ID).Status)
	f.assertResourceInvariants()
}

func TestService_StartTreatmentRejections(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	d := f.dentist("Dr A")
	away := Room{Location: "nilai", Label: "N1", IsActive: true}
	require.NoError(t, f.repo.CreateRoom(f.ctx, &away))
	closed := f.room("R0")
	_, err := f.svc.SetRoomActive(f.ctx, closed.ID, false)
	require.NoError(t, err)

	booked := f.book(StatusBooked, nil)
	a, entry := f.arrive(nil)

	tests := []struct {
		name    string
		apptID  uuid.UUID
		roomID  uuid.UUID
		dentist uuid.UUID
		want    error
	}{
		{"not checked in", booked.ID, room.ID, d.ID, ErrInvalidStatusTransition},
		{"unknown appointment", uuid.New(), room.ID, d.ID, ErrAppointmentNotFound},
		{"unknown room", a.ID, uuid.New(), d.ID, ErrRoomNotFound},
		{"unknown dentist", a.ID, room.ID, uuid.New(), ErrDentistNotFound},
		{"room elsewhere", a.ID, away.ID, d.ID, ErrResourceUnavailable},
		{"inactive room", a.ID, closed.ID, d.ID, ErrResourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StartTreatment(f.ctx, tt.apptID, tt.roomID, tt.dentist, "override")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, QueueWaiting, f.entry(entry.ID).QueueStatus)
	assert.Equal(t, RoomAvailable, f.roomStatus(room.ID))
	assert.True(t, f.dentistAvailable(d.ID))
	assert.Equal(t, StatusBooked, f.appointment(booked.ID).Status)
}

func TestService_DirectCompletionReleasesResources(t *testing.T) {
	f := newFixture(t)
	room := f.room("R1")
	d := f.dentist("Dr A")
	a, entry := f.arrive(nil)

	_, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)

	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusCompleted, "done")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StatusFeedbackScheduled, f.appointment(a.ID).Status)
	assert.Equal(t, QueueCompleted, f.entry(entry.ID).QueueStatus)
	assert.Equal(t, RoomAvailable, f.roomStatus(room.ID))
	assert.True(t, f.dentistAvailable(d.ID))
	f.assertResourceInvariants()
}

func TestService_CancelledPatientsLeaveTheQueue(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")

	a, entryA := f.arrive(nil)
	_, entryB := f.arrive(nil)

	ok, err := f.svc.TransitionTo(f.ctx, a.ID, StatusCancelled, "left the clinic")
	require.NoError(t, err)
	require.True(t, ok)

	stats, err := f.svc.GetQueueStats(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Waiting: 1}, stats, "cancelled patient is not counted")

	got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entryB.ID, got.ID)
	assert.Equal(t, QueueWaiting, f.entry(entryA.ID).QueueStatus, "kept for audit")

	stats, err = f.svc.GetQueueStats(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{InTreatment: 1}, stats)
}

func TestService_CompleteTreatmentPreconditions(t *testing.T) {
	f := newFixture(t)
	_, entry := f.arrive(nil)

	_, err := f.svc.CompleteTreatment(f.ctx, entry.ID)
	assert.ErrorIs(t, err, ErrQueueEntryNotInTreatment)
	assert.Equal(t, QueueWaiting, f.entry(entry.ID).QueueStatus)

	_, err = f.svc.CompleteTreatment(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrQueueEntryNotFound)
}

func TestService_CompleteTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")
	_, entry := f.arrive(nil)

	_, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	_, err = f.svc.CompleteTreatment(f.ctx, entry.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteTreatment(f.ctx, entry.ID)
	assert.ErrorIs(t, err, ErrQueueEntryNotInTreatment)
	f.assertResourceInvariants()
}

func TestService_ConcurrentAssignNeverDoubleBooks(t *testing.T) {
	f := newFixture(t)
	for _, label := range []string{"R1", "R2", "R3"} {
		f.room(label)
	}
	for _, name := range []string{"Dr A", "Dr B", "Dr C"} {
		f.dentist(name)
	}
	for i := 0; i < 10; i++ {
		f.arrive(nil)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned []QueueEntry
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				assigned = append(assigned, *got)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, assigned, 3)
	rooms := map[uuid.UUID]bool{}
	dentists := map[uuid.UUID]bool{}
	for _, e := range assigned {
		rooms[*e.RoomID] = true
		dentists[*e.DentistID] = true
	}
	assert.Len(t, rooms, 3)
	assert.Len(t, dentists, 3)

	stats, err := f.svc.GetQueueStats(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Waiting: 7, InTreatment: 3}, stats)
	f.assertResourceInvariants()
}

func TestService_LocationsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")
	f.arrive(nil)

	other := Room{Location: "nilai", Label: "R1", IsActive: true}
	require.NoError(t, f.repo.CreateRoom(f.ctx, &other))

	got, err := f.svc.AssignNextPatient(f.ctx, "nilai")
	require.NoError(t, err)
	assert.Nil(t, got, "seremban patients are never pulled into nilai")
	assert.Equal(t, RoomAvailable, f.roomStatus(other.ID))
}

func TestService_AssignLockBusy(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")
	_, entry := f.arrive(nil)

	svc := NewService(f.repo, busyLocker{}, testConfig(), WithClock(f.clock.Now))
	got, err := svc.AssignNextPatient(f.ctx, testLocation)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrAssignmentInProgress)
	assert.Equal(t, QueueWaiting, f.entry(entry.ID).QueueStatus)
}

func TestService_AssignUsesLocationLock(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")
	f.arrive(nil)

	locker := &passLocker{}
	svc := NewService(f.repo, locker, testConfig(), WithClock(f.clock.Now))
	got, err := svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, []string{testLocation}, locker.calls)
}

func TestService_NotificationFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.notifier.fails = true
	f.room("R1")
	f.dentist("Dr A")

	a, _ := f.arrive(nil)
	got, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusInTreatment, f.appointment(a.ID).Status)
}

func TestService_QueueStatsAreScopedToToday(t *testing.T) {
	f := newFixture(t)
	f.room("R1")
	f.dentist("Dr A")

	_, entryA := f.arrive(nil)
	f.arrive(nil)
	f.arrive(nil)
	_, err := f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)
	_, err = f.svc.CompleteTreatment(f.ctx, entryA.ID)
	require.NoError(t, err)
	_, err = f.svc.AssignNextPatient(f.ctx, testLocation)
	require.NoError(t, err)

	stats, err := f.svc.GetQueueStats(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Waiting: 1, InTreatment: 1, Completed: 1}, stats)

	items, err := f.svc.ListQueue(f.ctx, testLocation, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, entryA.ID, items[0].Entry.ID)

	f.clock.Advance(24 * time.Hour)
	stats, err = f.svc.GetQueueStats(f.ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)
}

func TestService_QueueNumbersRestartEachDay(t *testing.T) {
	f := newFixture(t)
	_, first := f.arrive(nil)
	f.arrive(nil)

	f.clock.Advance(24 * time.Hour)
	_, nextDay := f.arrive(nil)

	assert.Equal(t, 1, first.QueueNumber)
	assert.Equal(t, 1, nextDay.QueueNumber)
	assert.True(t, nextDay.QueueDate.After(first.QueueDate))
}
