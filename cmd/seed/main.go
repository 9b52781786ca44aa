package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/db"
	"github.com/hackgods/dental-patient-flow/internal/logging"
)

const (
	roomsPerLocation      = 4
	dentistsPerLocation   = 3
	bookingsPerLocation   = 40
	maxAttemptsPerBooking = 5
)

var treatments = []struct {
	name    string
	minutes int
}{
	{"Consultation", 15},
	{"Scaling and Polishing", 30},
	{"Filling", 45},
	{"Extraction", 30},
	{"Root Canal", 60},
	{"Whitening", 60},
}

var mobilePrefixes = []string{"012", "013", "016", "017", "019"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg, "seed")
	logger.Info("seed starting", slog.Any("locations", cfg.Locations))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, cfg, appointment.WithLogger(logger))

	services, err := seedTreatments(ctx, svc)
	if err != nil {
		logger.Error("seed services", slog.Any("error", err))
		os.Exit(1)
	}

	for _, loc := range cfg.Locations {
		if err := seedLocation(ctx, svc, cfg, loc, services); err != nil {
			logger.Error("seed location", slog.String("location", loc), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("location seeded", slog.String("location", loc))
	}

	logger.Info("seed complete")
}

func seedTreatments(ctx context.Context, svc *appointment.Service) ([]appointment.Treatment, error) {
	existing, err := svc.ListTreatments(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	out := make([]appointment.Treatment, 0, len(treatments))
	for _, t := range treatments {
		created, err := svc.CreateTreatment(ctx, t.name, t.minutes)
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}

func seedLocation(ctx context.Context, svc *appointment.Service, cfg config.Config, location string, services []appointment.Treatment) error {
	for i := 1; i <= roomsPerLocation; i++ {
		if _, err := svc.CreateRoom(ctx, location, fmt.Sprintf("Room %d", i)); err != nil {
			return fmt.Errorf("create room: %w", err)
		}
	}

	var dentists []uuid.UUID
	for i := 0; i < dentistsPerLocation; i++ {
		d, err := svc.CreateDentist(ctx, location, "Dr "+gofakeit.Name())
		if err != nil {
			return fmt.Errorf("create dentist: %w", err)
		}
		dentists = append(dentists, d.ID)
	}

	// bookings over today and tomorrow; slots already gone are skipped
	today := svc.Today()
	booked := 0
	for i := 0; i < bookingsPerLocation; i++ {
		for attempt := 0; attempt < maxAttemptsPerBooking; attempt++ {
			req := randomBooking(cfg, location, today.AddDate(0, 0, gofakeit.Number(0, 1)), services, dentists)
			_, err := svc.CreateAppointment(ctx, req)
			if errors.Is(err, appointment.ErrSlotUnavailable) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			booked++
			break
		}
	}
	slog.Info("bookings created", slog.String("location", location), slog.Int("count", booked))
	return nil
}

func randomBooking(cfg config.Config, location string, day time.Time, services []appointment.Treatment, dentists []uuid.UUID) appointment.BookingRequest {
	svc := services[gofakeit.Number(0, len(services)-1)]
	steps := int(time.Duration(cfg.ClosingHour-cfg.OpeningHour) * time.Hour / cfg.SlotStep)
	start := time.Duration(cfg.OpeningHour)*time.Hour + time.Duration(gofakeit.Number(0, steps-1))*cfg.SlotStep

	var dentistID *uuid.UUID
	if gofakeit.Bool() {
		id := dentists[gofakeit.Number(0, len(dentists)-1)]
		dentistID = &id
	}

	phone := fmt.Sprintf("%s-%07d", mobilePrefixes[gofakeit.Number(0, len(mobilePrefixes)-1)], gofakeit.Number(0, 9999999))

	return appointment.BookingRequest{
		Location:     location,
		ServiceID:    svc.ID,
		DentistID:    dentistID,
		Date:         day,
		StartTime:    start,
		PatientName:  gofakeit.Name(),
		PatientPhone: phone,
	}
}
