package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

const dateLayout = "2006-01-02"

type CreateAppointmentRequest struct {
	Location     string  `json:"location"`
	ServiceID    string  `json:"service_id"`
	DentistID    *string `json:"dentist_id,omitempty"`
	Date         string  `json:"date"`       // YYYY-MM-DD
	StartTime    string  `json:"start_time"` // HH:MM clinic time
	PatientName  string  `json:"patient_name"`
	PatientPhone string  `json:"patient_phone"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// StartTreatmentRequest puts a queued patient into a named room with a named
// dentist, ahead of the queue.
type StartTreatmentRequest struct {
	RoomID    string `json:"room_id"`
	DentistID string `json:"dentist_id"`
	Reason    string `json:"reason,omitempty"`
}

// CheckInRequest takes either a visit code or a phone number with location.
type CheckInRequest struct {
	VisitCode string `json:"visit_code,omitempty"`
	Location  string `json:"location,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type CreateRoomRequest struct {
	Label string `json:"label"`
}

type SetRoomActiveRequest struct {
	Active *bool `json:"active"`
}

type CreateDentistRequest struct {
	Name string `json:"name"`
}

type CreateTreatmentRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Location           string     `json:"location"`
	ServiceID          uuid.UUID  `json:"service_id"`
	DentistID          *uuid.UUID `json:"dentist_id,omitempty"`
	PatientName        string     `json:"patient_name"`
	PatientPhone       string     `json:"patient_phone"`
	VisitCode          string     `json:"visit_code"`
	Date               string     `json:"date"`
	StartTime          string     `json:"start_time"`
	Status             string     `json:"status"`
	Room               *string    `json:"room,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	TreatmentStartedAt *time.Time `json:"treatment_started_at,omitempty"`
	TreatmentEndedAt   *time.Time `json:"treatment_ended_at,omitempty"`
}

type TransitionResponse struct {
	Accepted    bool                `json:"accepted"`
	Appointment AppointmentResponse `json:"appointment"`
}

type StatusResponse struct {
	Status   string   `json:"status"`
	Terminal bool     `json:"terminal"`
	Next     []string `json:"next"`
}

type QueueEntryResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Location      string     `json:"location"`
	QueueDate     string     `json:"queue_date"`
	QueueNumber   int        `json:"queue_number"`
	QueueStatus   string     `json:"queue_status"`
	RoomID        *uuid.UUID `json:"room_id,omitempty"`
	DentistID     *uuid.UUID `json:"dentist_id,omitempty"`
	CheckInTime   time.Time  `json:"check_in_time"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type CheckInResponse struct {
	AlreadyCheckedIn bool                `json:"already_checked_in"`
	Appointment      AppointmentResponse `json:"appointment"`
	Entry            QueueEntryResponse  `json:"entry"`
}

type AssignResponse struct {
	Assigned bool                `json:"assigned"`
	Entry    *QueueEntryResponse `json:"entry,omitempty"`
}

type CompleteResponse struct {
	Completed QueueEntryResponse  `json:"completed"`
	Next      *QueueEntryResponse `json:"next,omitempty"`
}

type QueueItemResponse struct {
	Entry       QueueEntryResponse  `json:"entry"`
	Appointment AppointmentResponse `json:"appointment"`
}

type RoomResponse struct {
	ID       uuid.UUID `json:"id"`
	Location string    `json:"location"`
	Label    string    `json:"label"`
	IsActive bool      `json:"is_active"`
	Status   string    `json:"status"`
}

type DentistResponse struct {
	ID        uuid.UUID `json:"id"`
	Location  string    `json:"location"`
	Name      string    `json:"name"`
	Available bool      `json:"available"`
}

type TreatmentResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		Location:           a.Location,
		ServiceID:          a.ServiceID,
		DentistID:          a.DentistID,
		PatientName:        a.PatientName,
		PatientPhone:       a.PatientPhone,
		VisitCode:          a.VisitCode,
		Date:               a.Date.Format(dateLayout),
		StartTime:          clockString(a.StartTime),
		Status:             string(a.Status),
		Room:               a.Room,
		CheckedInAt:        a.CheckedInAt,
		TreatmentStartedAt: a.TreatmentStartedAt,
		TreatmentEndedAt:   a.TreatmentEndedAt,
	}
}

func toQueueEntryResponse(e appointment.QueueEntry) QueueEntryResponse {
	return QueueEntryResponse{
		ID:            e.ID,
		AppointmentID: e.AppointmentID,
		Location:      e.Location,
		QueueDate:     e.QueueDate.Format(dateLayout),
		QueueNumber:   e.QueueNumber,
		QueueStatus:   string(e.QueueStatus),
		RoomID:        e.RoomID,
		DentistID:     e.DentistID,
		CheckInTime:   e.CheckInTime,
		CalledAt:      e.CalledAt,
		CompletedAt:   e.CompletedAt,
	}
}

func toRoomResponse(r appointment.Room) RoomResponse {
	return RoomResponse{
		ID:       r.ID,
		Location: r.Location,
		Label:    r.Label,
		IsActive: r.IsActive,
		Status:   string(r.Status),
	}
}

func toDentistResponse(d appointment.Dentist) DentistResponse {
	return DentistResponse{ID: d.ID, Location: d.Location, Name: d.Name, Available: d.Available}
}

func toTreatmentResponse(t appointment.Treatment) TreatmentResponse {
	return TreatmentResponse{ID: t.ID, Name: t.Name, DurationMinutes: t.DurationMinutes}
}

func clockString(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
