package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Slot is a bookable start time in the clinic timezone.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// interval is a booked span on the day, as offsets from local midnight.
type interval struct {
	start, end time.Duration
	dentistID  *uuid.UUID
}

func (iv interval) overlaps(start, end time.Duration) bool {
	return iv.start < end && start < iv.end
}

// holdsTime reports whether an appointment in s still blocks its time range.
func holdsTime(s Status) bool {
	return s != StatusCancelled && s != StatusNoShow
}

// AvailableSlots lists the start times on day at location where a booking
// of serviceID would fit. A slot is free while the dentists not booked in it
// outnumber the overlapping bookings that have no dentist yet; with dentistID
// set that dentist must also be among the free ones. Slots that
// already started today are left out. The planner only reads appointments.
func (s *Service) AvailableSlots(ctx context.Context, location string, day time.Time, serviceID uuid.UUID, dentistID *uuid.UUID) ([]Slot, error) {
	treatment, err := s.repo.GetTreatmentByID(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	dentists, err := s.repo.ListDentists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("list dentists: %w", err)
	}
	roster := make([]uuid.UUID, 0, len(dentists))
	for _, d := range dentists {
		roster = append(roster, d.ID)
	}
	if dentistID != nil && !containsID(roster, *dentistID) {
		return nil, ErrDentistNotFound
	}

	booked, err := s.bookedIntervals(ctx, location, day)
	if err != nil {
		return nil, err
	}

	var notBefore time.Duration
	if now := s.now(); DayOf(now, s.cfg.Timezone).Equal(day) {
		local := now.In(s.cfg.Timezone)
		notBefore = local.Sub(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Timezone))
	}

	starts := planSlots(s.openingHours(), treatment.Duration(), s.cfg.SlotStep, booked, roster, dentistID, notBefore)

	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Timezone)
	slots := make([]Slot, 0, len(starts))
	for _, start := range starts {
		slots = append(slots, Slot{
			Start: midnight.Add(start),
			End:   midnight.Add(start + treatment.Duration()),
		})
	}
	return slots, nil
}

type hours struct {
	open, close time.Duration
}

func (s *Service) openingHours() hours {
	return hours{
		open:  time.Duration(s.cfg.OpeningHour) * time.Hour,
		close: time.Duration(s.cfg.ClosingHour) * time.Hour,
	}
}

func (s *Service) bookedIntervals(ctx context.Context, location string, day time.Time) ([]interval, error) {
	appointments, err := s.repo.ListAppointmentsForDay(ctx, location, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return s.toIntervals(ctx, appointments)
}

func (s *Service) toIntervals(ctx context.Context, appointments []Appointment) ([]interval, error) {
	durations := make(map[uuid.UUID]time.Duration)
	out := make([]interval, 0, len(appointments))
	for _, a := range appointments {
		if !holdsTime(a.Status) {
			continue
		}
		d, ok := durations[a.ServiceID]
		if !ok {
			t, err := s.repo.GetTreatmentByID(ctx, a.ServiceID)
			if err != nil {
				return nil, fmt.Errorf("load service %s: %w", a.ServiceID, err)
			}
			d = t.Duration()
			durations[a.ServiceID] = d
		}
		out = append(out, interval{start: a.StartTime, end: a.StartTime + d, dentistID: a.DentistID})
	}
	return out, nil
}

// planSlots steps through opening hours and keeps every start whose span fits
// before closing and does not collide with booked.
func planSlots(h hours, duration, step time.Duration, booked []interval, roster []uuid.UUID, dentistID *uuid.UUID, notBefore time.Duration) []time.Duration {
	if step <= 0 || duration <= 0 {
		return nil
	}
	var out []time.Duration
	for start := h.open; start+duration <= h.close; start += step {
		if start < notBefore {
			continue
		}
		if slotFree(start, start+duration, booked, roster, dentistID) {
			out = append(out, start)
		}
	}
	return out
}

func slotFree(start, end time.Duration, booked []interval, roster []uuid.UUID, dentistID *uuid.UUID) bool {
	busy := make(map[uuid.UUID]bool)
	unassigned := 0
	for _, iv := range booked {
		if !iv.overlaps(start, end) {
			continue
		}
		if iv.dentistID == nil {
			unassigned++
			continue
		}
		busy[*iv.dentistID] = true
	}

	if dentistID != nil && busy[*dentistID] {
		return false
	}

	// the chosen dentist still has to leave room for bookings made for "any"
	free := 0
	for _, id := range roster {
		if !busy[id] {
			free++
		}
	}
	return free > unassigned
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
