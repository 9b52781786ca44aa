package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func createRoomHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		room, err := svc.CreateRoom(r.Context(), chi.URLParam(r, "location"), req.Label)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRoomResponse(*room))
	}
}

func listRoomsHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := svc.ListRooms(r.Context(), chi.URLParam(r, "location"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]RoomResponse, 0, len(rooms))
		for _, room := range rooms {
			resp = append(resp, toRoomResponse(room))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setRoomActiveHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_room_id")
		if !ok {
			return
		}

		var req SetRoomActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "active must be true or false")
			return
		}

		room, err := svc.SetRoomActive(r.Context(), id, *req.Active)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRoomResponse(*room))
	}
}

func createDentistHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDentistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		d, err := svc.CreateDentist(r.Context(), chi.URLParam(r, "location"), req.Name)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDentistResponse(*d))
	}
}

func listDentistsHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dentists, err := svc.ListDentists(r.Context(), chi.URLParam(r, "location"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]DentistResponse, 0, len(dentists))
		for _, d := range dentists {
			resp = append(resp, toDentistResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createTreatmentHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTreatmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		t, err := svc.CreateTreatment(r.Context(), req.Name, req.DurationMinutes)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTreatmentResponse(*t))
	}
}

func listTreatmentsHandler(svc ClinicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		treatments, err := svc.ListTreatments(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]TreatmentResponse, 0, len(treatments))
		for _, t := range treatments {
			resp = append(resp, toTreatmentResponse(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
