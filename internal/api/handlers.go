package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
)

func createAppointmentHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		var dentistID *uuid.UUID
		if req.DentistID != nil && *req.DentistID != "" {
			id, err := uuid.Parse(*req.DentistID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dentist_id", "dentist_id must be a valid UUID")
				return
			}
			dentistID = &id
		}

		day, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		start, err := appointment.ParseClock(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.BookingRequest{
			Location:     req.Location,
			ServiceID:    serviceID,
			DentistID:    dentistID,
			Date:         day,
			StartTime:    start,
			PatientName:  req.PatientName,
			PatientPhone: req.PatientPhone,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// transitionHandler answers 200 for both outcomes; a refused transition is a
// business result, not a failure.
func transitionHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		target, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}

		accepted, err := svc.TransitionTo(r.Context(), id, target, req.Reason)
		if err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, TransitionResponse{
			Accepted:    accepted,
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func startTreatmentHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req StartTreatmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		roomID, err := uuid.Parse(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}
		dentistID, err := uuid.Parse(req.DentistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dentist_id", "dentist_id must be a valid UUID")
			return
		}

		entry, err := svc.StartTreatment(r.Context(), id, roomID, dentistID, req.Reason)
		if err != nil {
			handleError(w, r, err)
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueItemResponse{
			Entry:       toQueueEntryResponse(*entry),
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func nextStatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := appointment.ParseStatus(chi.URLParam(r, "status"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_status", err.Error())
			return
		}

		next := appointment.AllowedNextStates(s)
		resp := StatusResponse{
			Status:   string(s),
			Terminal: appointment.IsTerminalState(s),
			Next:     make([]string, 0, len(next)),
		}
		for _, n := range next {
			resp.Next = append(resp.Next, string(n))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func checkInHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var (
			res *appointment.CheckInResult
			err error
		)
		switch {
		case strings.TrimSpace(req.VisitCode) != "":
			res, err = svc.CheckIn(r.Context(), req.VisitCode)
		case req.Phone != "" && req.Location != "":
			res, err = svc.CheckInByPhone(r.Context(), req.Location, req.Phone)
		default:
			writeError(w, http.StatusBadRequest, "invalid_check_in", "visit_code or phone and location are required")
			return
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		status := http.StatusCreated
		if res.AlreadyCheckedIn {
			status = http.StatusOK
		}
		writeJSON(w, status, CheckInResponse{
			AlreadyCheckedIn: res.AlreadyCheckedIn,
			Appointment:      toAppointmentResponse(res.Appointment),
			Entry:            toQueueEntryResponse(res.Entry),
		})
	}
}

func assignNextHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := svc.AssignNextPatient(r.Context(), chi.URLParam(r, "location"))
		if err != nil {
			handleError(w, r, err)
			return
		}

		if entry == nil {
			writeJSON(w, http.StatusOK, AssignResponse{Assigned: false})
			return
		}
		resp := toQueueEntryResponse(*entry)
		writeJSON(w, http.StatusOK, AssignResponse{Assigned: true, Entry: &resp})
	}
}

func completeTreatmentHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_queue_entry_id")
		if !ok {
			return
		}

		res, err := svc.CompleteTreatment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := CompleteResponse{Completed: toQueueEntryResponse(res.Completed)}
		if res.Next != nil {
			next := toQueueEntryResponse(*res.Next)
			resp.Next = &next
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getQueueEntryHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_queue_entry_id")
		if !ok {
			return
		}

		entry, err := svc.GetQueueEntry(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueueEntryResponse(*entry))
	}
}

func listQueueHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var day time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			var err error
			if day, err = time.Parse(dateLayout, raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		items, err := svc.ListQueue(r.Context(), chi.URLParam(r, "location"), day)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]QueueItemResponse, 0, len(items))
		for _, it := range items {
			resp = append(resp, QueueItemResponse{
				Entry:       toQueueEntryResponse(it.Entry),
				Appointment: toAppointmentResponse(it.Appointment),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func queueStatsHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.GetQueueStats(r.Context(), chi.URLParam(r, "location"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func availableSlotsHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		day, err := time.Parse(dateLayout, q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		serviceID, err := uuid.Parse(q.Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		var dentistID *uuid.UUID
		if raw := q.Get("dentist_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dentist_id", "dentist_id must be a valid UUID")
				return
			}
			dentistID = &id
		}

		slots, err := svc.AvailableSlots(r.Context(), chi.URLParam(r, "location"), day, serviceID, dentistID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if slots == nil {
			slots = []appointment.Slot{}
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrQueueEntryNotFound):
		writeError(w, http.StatusNotFound, "queue_entry_not_found", err.Error())
	case errors.Is(err, appointment.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	case errors.Is(err, appointment.ErrDentistNotFound):
		writeError(w, http.StatusNotFound, "dentist_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrQueueEntryNotInTreatment):
		writeError(w, http.StatusConflict, "queue_entry_not_in_treatment", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrAssignmentInProgress):
		writeError(w, http.StatusConflict, "assignment_in_progress", "an assignment is running for this location, please retry shortly")
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrResourceUnavailable):
		writeError(w, http.StatusConflict, "resource_unavailable", err.Error())
	case errors.Is(err, appointment.ErrCheckInNotAllowed):
		writeError(w, http.StatusConflict, "check_in_not_allowed", err.Error())
	case errors.Is(err, appointment.ErrCheckInWrongDay):
		writeError(w, http.StatusUnprocessableEntity, "check_in_wrong_day", err.Error())
	case errors.Is(err, appointment.ErrInvalidPhone):
		writeError(w, http.StatusUnprocessableEntity, "invalid_phone", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	default:
		RequestLogger(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: msg})
}
