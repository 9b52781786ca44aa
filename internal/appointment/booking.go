package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrSlotUnavailable = errors.New("requested time is not available")
)

// BookingRequest is a patient's visit intent.
type BookingRequest struct {
	Location     string
	ServiceID    uuid.UUID
	DentistID    *uuid.UUID // nil books "any dentist"
	Date         time.Time  // calendar day, only the date part is used
	StartTime    time.Duration
	PatientName  string
	PatientPhone string
}

// NormalizePhone parses raw in region (ISO 3166 code, used when raw has no
// country prefix) and formats it as E.164.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func newVisitCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateAppointment books a visit in status booked. The requested time must
// fall inside opening hours and still be free for the dentist, or for any
// dentist when none is chosen.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	req.Location = strings.TrimSpace(req.Location)
	req.PatientName = strings.TrimSpace(req.PatientName)
	if req.Location == "" || req.PatientName == "" {
		return nil, fmt.Errorf("%w: location and patient name are required", ErrInvalidRequest)
	}
	if req.StartTime < 0 || req.StartTime >= 24*time.Hour {
		return nil, fmt.Errorf("%w: start time out of range", ErrInvalidRequest)
	}

	phone, err := NormalizePhone(req.PatientPhone, s.cfg.DefaultPhoneRegion)
	if err != nil {
		return nil, err
	}

	treatment, err := s.repo.GetTreatmentByID(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	dentists, err := s.repo.ListDentists(ctx, req.Location)
	if err != nil {
		return nil, fmt.Errorf("list dentists: %w", err)
	}
	roster := make([]uuid.UUID, 0, len(dentists))
	for _, d := range dentists {
		roster = append(roster, d.ID)
	}
	if req.DentistID != nil && !containsID(roster, *req.DentistID) {
		return nil, ErrDentistNotFound
	}

	y, m, d := req.Date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	start, end := req.StartTime, req.StartTime+treatment.Duration()

	h := s.openingHours()
	if start < h.open || end > h.close {
		return nil, fmt.Errorf("%w: outside opening hours", ErrSlotUnavailable)
	}
	if candidate := (Appointment{Date: day, StartTime: start}); candidate.StartsAt(s.cfg.Timezone).Before(s.now()) {
		return nil, fmt.Errorf("%w: time is in the past", ErrSlotUnavailable)
	}

	a := &Appointment{
		ID:           uuid.New(),
		Location:     req.Location,
		ServiceID:    treatment.ID,
		DentistID:    req.DentistID,
		PatientName:  req.PatientName,
		PatientPhone: phone,
		VisitCode:    newVisitCode(),
		Date:         day,
		StartTime:    start,
		Status:       StatusBooked,
	}

	err = s.repo.InTx(ctx, req.Location, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ListAppointmentsForDay(ctx, req.Location, day)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		booked, err := s.toIntervals(ctx, existing)
		if err != nil {
			return err
		}
		if !slotFree(start, end, booked, roster, req.DentistID) {
			return ErrSlotUnavailable
		}

		if err := tx.InsertAppointment(ctx, a); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.logEvent(ctx, tx, a.ID, EventAppointmentCreated, map[string]any{
			"service_id": a.ServiceID,
			"date":       day.Format(time.DateOnly),
			"start":      formatClock(start),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "appointment booked",
		"appointment_id", a.ID.String(),
		"location", a.Location,
		"date", day.Format(time.DateOnly),
		"start", formatClock(start),
	)
	return a, nil
}

// formatClock renders an offset from midnight as HH:MM.
func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// ParseClock reads HH:MM into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: time must be HH:MM", ErrInvalidRequest)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
