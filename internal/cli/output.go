package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

// emit writes v as indented JSON, or calls text for the human format.
func (o *RootOptions) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

type entryView struct {
	ID            string     `json:"id"`
	AppointmentID string     `json:"appointment_id"`
	QueueNumber   int        `json:"queue_number"`
	QueueStatus   string     `json:"queue_status"`
	RoomID        string     `json:"room_id,omitempty"`
	DentistID     string     `json:"dentist_id,omitempty"`
	CheckInTime   time.Time  `json:"check_in_time"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func viewEntry(e appointment.QueueEntry) entryView {
	v := entryView{
		ID:            e.ID.String(),
		AppointmentID: e.AppointmentID.String(),
		QueueNumber:   e.QueueNumber,
		QueueStatus:   string(e.QueueStatus),
		CheckInTime:   e.CheckInTime,
		CalledAt:      e.CalledAt,
		CompletedAt:   e.CompletedAt,
	}
	if e.RoomID != nil {
		v.RoomID = e.RoomID.String()
	}
	if e.DentistID != nil {
		v.DentistID = e.DentistID.String()
	}
	return v
}

func printEntry(w io.Writer, e appointment.QueueEntry) {
	fmt.Fprintf(w, "#%d  %s  %s", e.QueueNumber, e.QueueStatus, e.ID)
	if e.RoomID != nil {
		fmt.Fprintf(w, "  room=%s", e.RoomID)
	}
	if e.DentistID != nil {
		fmt.Fprintf(w, "  dentist=%s", e.DentistID)
	}
	fmt.Fprintln(w)
}
