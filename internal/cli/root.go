package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

// Service is the part of the clinic core the ops CLI drives.
type Service interface {
	TransitionTo(ctx context.Context, id uuid.UUID, target appointment.Status, reason string) (bool, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	StartTreatment(ctx context.Context, appointmentID, roomID, dentistID uuid.UUID, reason string) (*appointment.QueueEntry, error)
	CheckIn(ctx context.Context, visitCode string) (*appointment.CheckInResult, error)
	CheckInByPhone(ctx context.Context, location, phone string) (*appointment.CheckInResult, error)
	AssignNextPatient(ctx context.Context, location string) (*appointment.QueueEntry, error)
	CompleteTreatment(ctx context.Context, entryID uuid.UUID) (*appointment.CompletionResult, error)
	GetQueueStats(ctx context.Context, location string) (appointment.QueueStats, error)
	ListQueue(ctx context.Context, location string, day time.Time) ([]appointment.QueueItem, error)
	AvailableSlots(ctx context.Context, location string, day time.Time, serviceID uuid.UUID, dentistID *uuid.UUID) ([]appointment.Slot, error)
}

// Env is what a command needs from the outside world. Migrate may be nil
// for backends without a schema.
type Env struct {
	Service Service
	Migrate func(ctx context.Context) error
	Close   func()
}

// Opener connects the backend lazily so commands such as states work
// without a database.
type Opener func(ctx context.Context) (*Env, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration
	open    Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for clinicctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "Operate the dental clinic patient flow",
		Long:  "Staff and ops tool for appointments, check-in and the treatment queue.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "deadline for one command")

	cmd.AddCommand(newStatesCommand(opts))
	cmd.AddCommand(newTransitionCommand(opts))
	cmd.AddCommand(newCheckInCommand(opts))
	cmd.AddCommand(newAssignCommand(opts))
	cmd.AddCommand(newStartTreatmentCommand(opts))
	cmd.AddCommand(newCompleteCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newSlotsCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// withEnv opens the backend for the duration of fn.
func (o *RootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error) error {
	if o.open == nil {
		return fmt.Errorf("no backend configured")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	env, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
