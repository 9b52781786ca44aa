package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

// ClinicService is the part of appointment.Service the HTTP layer drives.
type ClinicService interface {
	CreateAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	TransitionTo(ctx context.Context, id uuid.UUID, target appointment.Status, reason string) (bool, error)
	StartTreatment(ctx context.Context, appointmentID, roomID, dentistID uuid.UUID, reason string) (*appointment.QueueEntry, error)

	CheckIn(ctx context.Context, visitCode string) (*appointment.CheckInResult, error)
	CheckInByPhone(ctx context.Context, location, phone string) (*appointment.CheckInResult, error)

	AssignNextPatient(ctx context.Context, location string) (*appointment.QueueEntry, error)
	CompleteTreatment(ctx context.Context, entryID uuid.UUID) (*appointment.CompletionResult, error)
	GetQueueEntry(ctx context.Context, id uuid.UUID) (*appointment.QueueEntry, error)
	GetQueueStats(ctx context.Context, location string) (appointment.QueueStats, error)
	ListQueue(ctx context.Context, location string, day time.Time) ([]appointment.QueueItem, error)

	AvailableSlots(ctx context.Context, location string, day time.Time, serviceID uuid.UUID, dentistID *uuid.UUID) ([]appointment.Slot, error)

	CreateRoom(ctx context.Context, location, label string) (*appointment.Room, error)
	SetRoomActive(ctx context.Context, id uuid.UUID, active bool) (*appointment.Room, error)
	ListRooms(ctx context.Context, location string) ([]appointment.Room, error)
	CreateDentist(ctx context.Context, location, name string) (*appointment.Dentist, error)
	ListDentists(ctx context.Context, location string) ([]appointment.Dentist, error)
	CreateTreatment(ctx context.Context, name string, minutes int) (*appointment.Treatment, error)
	ListTreatments(ctx context.Context) ([]appointment.Treatment, error)
}

type RouterConfig struct {
	Service  ClinicService
	Postgres Pinger
	Redis    Pinger
	Logger   *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	svc := cfg.Service

	r.Post("/appointments", createAppointmentHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Post("/appointments/{id}/transitions", transitionHandler(svc))
	r.Post("/appointments/{id}/treatment", startTreatmentHandler(svc))
	r.Get("/statuses/{status}/next", nextStatesHandler())

	r.Post("/check-ins", checkInHandler(svc))

	r.Get("/queue/{id}", getQueueEntryHandler(svc))
	r.Post("/queue/{id}/complete", completeTreatmentHandler(svc))

	r.Get("/services", listTreatmentsHandler(svc))
	r.Post("/services", createTreatmentHandler(svc))
	r.Patch("/rooms/{id}", setRoomActiveHandler(svc))

	r.Route("/locations/{location}", func(r chi.Router) {
		r.Get("/queue", listQueueHandler(svc))
		r.Get("/queue/stats", queueStatsHandler(svc))
		r.Post("/queue/assign", assignNextHandler(svc))
		r.Get("/slots", availableSlotsHandler(svc))

		r.Get("/rooms", listRoomsHandler(svc))
		r.Post("/rooms", createRoomHandler(svc))
		r.Get("/dentists", listDentistsHandler(svc))
		r.Post("/dentists", createDentistHandler(svc))
	})

	return r
}
