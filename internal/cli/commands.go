package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

const dateLayout = "2006-01-02"

func newStatesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "states <status>",
		Short: "Show the statuses an appointment may move to next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := appointment.ParseStatus(args[0])
			if err != nil {
				return err
			}
			next := appointment.AllowedNextStates(s)
			out := struct {
				Status   appointment.Status   `json:"status"`
				Terminal bool                 `json:"terminal"`
				Next     []appointment.Status `json:"next"`
			}{s, appointment.IsTerminalState(s), next}

			return opts.emit(cmd, out, func(w io.Writer) {
				if out.Terminal {
					fmt.Fprintf(w, "%s is terminal\n", s)
					return
				}
				fmt.Fprintf(w, "%s ->", s)
				for _, n := range next {
					fmt.Fprintf(w, " %s", n)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

func newTransitionCommand(opts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "transition <appointment-id> <status>",
		Short: "Move an appointment to a new status",
		Long: `Move an appointment to a new status.

A refused transition is not an error: the command reports it and leaves
the appointment as it was.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id: %w", err)
			}
			target, err := appointment.ParseStatus(args[1])
			if err != nil {
				return err
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				ok, err := env.Service.TransitionTo(ctx, id, target, reason)
				if err != nil {
					return err
				}
				a, err := env.Service.GetAppointment(ctx, id)
				if err != nil {
					return err
				}
				out := struct {
					Accepted bool               `json:"accepted"`
					Status   appointment.Status `json:"status"`
				}{ok, a.Status}

				return opts.emit(cmd, out, func(w io.Writer) {
					if ok {
						fmt.Fprintf(w, "accepted: %s is now %s\n", id, a.Status)
						return
					}
					fmt.Fprintf(w, "refused: %s stays %s\n", id, a.Status)
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func newCheckInCommand(opts *RootOptions) *cobra.Command {
	var phone, location string

	cmd := &cobra.Command{
		Use:   "check-in [visit-code]",
		Short: "Check a patient in by visit code or phone number",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && (phone == "" || location == "") {
				return fmt.Errorf("give a visit code, or --phone with --location")
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				var (
					res *appointment.CheckInResult
					err error
				)
				if len(args) == 1 {
					res, err = env.Service.CheckIn(ctx, args[0])
				} else {
					res, err = env.Service.CheckInByPhone(ctx, location, phone)
				}
				if err != nil {
					return err
				}

				out := struct {
					AlreadyCheckedIn bool      `json:"already_checked_in"`
					Patient          string    `json:"patient"`
					Entry            entryView `json:"entry"`
				}{res.AlreadyCheckedIn, res.Appointment.PatientName, viewEntry(res.Entry)}

				return opts.emit(cmd, out, func(w io.Writer) {
					if res.AlreadyCheckedIn {
						fmt.Fprintf(w, "%s was already checked in\n", res.Appointment.PatientName)
					} else {
						fmt.Fprintf(w, "%s checked in\n", res.Appointment.PatientName)
					}
					printEntry(w, res.Entry)
				})
			})
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "patient phone number")
	cmd.Flags().StringVar(&location, "location", "", "clinic location for phone lookup")
	return cmd
}

func newAssignCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <location>",
		Short: "Call the next waiting patient into a free room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				entry, err := env.Service.AssignNextPatient(ctx, args[0])
				if err != nil {
					return err
				}

				out := struct {
					Assigned bool       `json:"assigned"`
					Entry    *entryView `json:"entry,omitempty"`
				}{Assigned: entry != nil}
				if entry != nil {
					v := viewEntry(*entry)
					out.Entry = &v
				}

				return opts.emit(cmd, out, func(w io.Writer) {
					if entry == nil {
						fmt.Fprintln(w, "no assignment: queue empty or no free room and dentist")
						return
					}
					printEntry(w, *entry)
				})
			})
		},
	}
}

func newStartTreatmentCommand(opts *RootOptions) *cobra.Command {
	var roomArg, dentistArg, reason string

	cmd := &cobra.Command{
		Use:   "start-treatment <appointment-id>",
		Short: "Put a queued patient into a chosen room ahead of the queue",
		Long: `Put a queued patient into a chosen room with a chosen dentist.

The room and dentist must both be free. They are claimed the same way
assign claims them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id: %w", err)
			}
			roomID, err := uuid.Parse(roomArg)
			if err != nil {
				return fmt.Errorf("invalid room id: %w", err)
			}
			dentistID, err := uuid.Parse(dentistArg)
			if err != nil {
				return fmt.Errorf("invalid dentist id: %w", err)
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				entry, err := env.Service.StartTreatment(ctx, id, roomID, dentistID, reason)
				if err != nil {
					return err
				}
				return opts.emit(cmd, viewEntry(*entry), func(w io.Writer) {
					printEntry(w, *entry)
				})
			})
		},
	}

	cmd.Flags().StringVar(&roomArg, "room", "", "room id")
	cmd.Flags().StringVar(&dentistArg, "dentist", "", "dentist id")
	cmd.Flags().StringVar(&reason, "reason", "staff override", "reason recorded in the audit trail")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("dentist")
	return cmd
}

func newCompleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <queue-entry-id>",
		Short: "Finish a treatment and free its room and dentist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue entry id: %w", err)
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				res, err := env.Service.CompleteTreatment(ctx, id)
				if err != nil {
					return err
				}

				out := struct {
					Completed entryView  `json:"completed"`
					Next      *entryView `json:"next,omitempty"`
				}{Completed: viewEntry(res.Completed)}
				if res.Next != nil {
					v := viewEntry(*res.Next)
					out.Next = &v
				}

				return opts.emit(cmd, out, func(w io.Writer) {
					printEntry(w, res.Completed)
					if res.Next != nil {
						fmt.Fprint(w, "next: ")
						printEntry(w, *res.Next)
					}
				})
			})
		},
	}
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <location>",
		Short: "Count today's queue by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				stats, err := env.Service.GetQueueStats(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.emit(cmd, stats, func(w io.Writer) {
					fmt.Fprintf(w, "waiting=%d in_treatment=%d completed=%d\n",
						stats.Waiting, stats.InTreatment, stats.Completed)
				})
			})
		},
	}
}

func newQueueCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "queue <location>",
		Short: "List the queue in arrival order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				items, err := env.Service.ListQueue(ctx, args[0], day)
				if err != nil {
					return err
				}

				type row struct {
					Patient string             `json:"patient"`
					Status  appointment.Status `json:"status"`
					Entry   entryView          `json:"entry"`
				}
				rows := make([]row, 0, len(items))
				for _, it := range items {
					rows = append(rows, row{it.Appointment.PatientName, it.Appointment.Status, viewEntry(it.Entry)})
				}

				return opts.emit(cmd, rows, func(w io.Writer) {
					if len(items) == 0 {
						fmt.Fprintln(w, "queue is empty")
						return
					}
					for _, it := range items {
						fmt.Fprintf(w, "%-20s ", it.Appointment.PatientName)
						printEntry(w, it.Entry)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "operating day YYYY-MM-DD (default today)")
	return cmd
}

func newSlotsCommand(opts *RootOptions) *cobra.Command {
	var date, service, dentist string

	cmd := &cobra.Command{
		Use:   "slots <location>",
		Short: "List bookable start times for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			if day.IsZero() {
				return fmt.Errorf("--date is required")
			}
			serviceID, err := uuid.Parse(service)
			if err != nil {
				return fmt.Errorf("invalid --service: %w", err)
			}
			var dentistID *uuid.UUID
			if dentist != "" {
				id, err := uuid.Parse(dentist)
				if err != nil {
					return fmt.Errorf("invalid --dentist: %w", err)
				}
				dentistID = &id
			}

			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				slots, err := env.Service.AvailableSlots(ctx, args[0], day, serviceID, dentistID)
				if err != nil {
					return err
				}
				if slots == nil {
					slots = []appointment.Slot{}
				}
				return opts.emit(cmd, slots, func(w io.Writer) {
					for _, s := range slots {
						fmt.Fprintf(w, "%s-%s\n", s.Start.Format("15:04"), s.End.Format("15:04"))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day YYYY-MM-DD")
	cmd.Flags().StringVar(&service, "service", "", "service id")
	cmd.Flags().StringVar(&dentist, "dentist", "", "dentist id (default any)")
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				if env.Migrate == nil {
					return fmt.Errorf("backend has no schema to migrate")
				}
				if err := env.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return day, nil
}
