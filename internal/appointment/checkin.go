package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrCheckInNotAllowed = errors.New("appointment can no longer be checked in")
	ErrCheckInWrongDay   = errors.New("appointment is not scheduled for today")
)

type CheckInResult struct {
	Appointment      Appointment
	Entry            QueueEntry
	AlreadyCheckedIn bool
}

// CheckIn resolves a visit code and checks the appointment in.
func (s *Service) CheckIn(ctx context.Context, visitCode string) (*CheckInResult, error) {
	code := strings.ToUpper(strings.TrimSpace(visitCode))
	if code == "" {
		return nil, fmt.Errorf("%w: visit code is required", ErrInvalidRequest)
	}
	a, err := s.repo.GetAppointmentByVisitCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolve visit code: %w", err)
	}
	return s.checkIn(ctx, a.ID, a.Location)
}

// CheckInByPhone resolves today's earliest open booking for phone at location.
func (s *Service) CheckInByPhone(ctx context.Context, location, phone string) (*CheckInResult, error) {
	normalized, err := NormalizePhone(phone, s.cfg.DefaultPhoneRegion)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.FindAppointmentByPhone(ctx, location, normalized, s.Today())
	if err != nil {
		return nil, fmt.Errorf("resolve phone: %w", err)
	}
	return s.checkIn(ctx, a.ID, a.Location)
}

// checkIn confirms a booked appointment when needed and moves it to
// checked_in in one transaction. Repeated calls return the existing entry.
func (s *Service) checkIn(ctx context.Context, id uuid.UUID, location string) (*CheckInResult, error) {
	var (
		out     *CheckInResult
		results []*applied
	)
	err := s.repo.InTx(ctx, location, func(ctx context.Context, tx Tx) error {
		a, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		if !a.Date.Equal(DayOf(s.now(), s.cfg.Timezone)) {
			return ErrCheckInWrongDay
		}

		entry, err := findEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if queueable(a.Status) && entry != nil {
			out = &CheckInResult{Appointment: *a, Entry: *entry, AlreadyCheckedIn: true}
			return nil
		}

		for _, target := range []Status{StatusConfirmed, StatusCheckedIn} {
			if a.Status == target {
				continue
			}
			if target == StatusConfirmed && a.Status != StatusBooked {
				continue
			}
			plan, ok := PlanTransition(*a, target, s.now(), entry)
			if !ok {
				return fmt.Errorf("%w: status %s", ErrCheckInNotAllowed, a.Status)
			}
			res, err := s.apply(ctx, tx, plan, "patient check-in")
			if err != nil {
				return err
			}
			results = append(results, res)
			a = &res.appointment
			entry = res.entry
		}
		if entry == nil {
			return fmt.Errorf("check-in of %s produced no queue entry", id)
		}
		out = &CheckInResult{Appointment: *a, Entry: *entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		s.inst.transition(ctx, res.plan.Steps[len(res.plan.Steps)-1], true)
		s.publish(ctx, res)
	}
	if !out.AlreadyCheckedIn {
		s.logger.InfoContext(ctx, "patient checked in",
			"appointment_id", out.Appointment.ID.String(),
			"location", location,
			"queue_number", out.Entry.QueueNumber,
		)
	}
	return out, nil
}
