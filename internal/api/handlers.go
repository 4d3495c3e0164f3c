package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/waitlist-engine/internal/matching"
	redisclient "github.com/carebridge/waitlist-engine/internal/redis"
)

func positionHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, ok := parseIDParam(w, r, "id", "invalid_entry_id", "id must be a valid UUID")
		if !ok {
			return
		}

		pos, err := svc.Position(r.Context(), entryID)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PositionResponse{
			EntryID:       entryID,
			Position:      pos.Position,
			Total:         pos.Total,
			PriorityScore: pos.PriorityScore,
		})
	}
}

func rankPatientsHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := parseIDParam(w, r, "id", "invalid_slot_id", "id must be a valid UUID")
		if !ok {
			return
		}

		var opts matching.PatientRankOptions
		if v := r.URL.Query().Get("insurance"); v != "" {
			opts.InsuranceProvider = &v
		}
		if v := r.URL.Query().Get("min_priority"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_min_priority", "min_priority must be a number")
				return
			}
			opts.MinPriorityScore = &f
		}

		matches, err := svc.RankPatientsForSlot(r.Context(), slotID, opts)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PatientMatchesResponse{SlotID: slotID, Matches: matches})
	}
}

func rankSlotsHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseIDParam(w, r, "id", "invalid_patient_id", "id must be a valid UUID")
		if !ok {
			return
		}

		var opts matching.SlotRankOptions
		for name, dst := range map[string]**time.Time{
			"start_date": &opts.StartDate,
			"end_date":   &opts.EndDate,
		} {
			v := r.URL.Query().Get(name)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be RFC3339")
				return
			}
			*dst = &t
		}

		matches, err := svc.RankSlotsForPatient(r.Context(), patientID, opts)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotMatchesResponse{PatientID: patientID, Matches: matches})
	}
}

func allocateHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AllocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		entryID, err := uuid.Parse(req.EntryID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", "entry_id must be a valid UUID")
			return
		}

		appt, err := svc.BookFromWaitlist(r.Context(), slotID, entryID)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func removeEntryHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, ok := parseIDParam(w, r, "id", "invalid_entry_id", "id must be a valid UUID")
		if !ok {
			return
		}

		if err := svc.RemoveEntry(r.Context(), entryID); err != nil {
			handleEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getAppointmentHandler(svc *matching.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_appointment_id", "id must be a valid UUID")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name, code, details string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, details)
		return uuid.Nil, false
	}
	return id, true
}

func handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matching.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, matching.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, matching.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, matching.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry_not_found", err.Error())
	case errors.Is(err, matching.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, matching.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, matching.ErrEntryNotActive):
		writeError(w, http.StatusConflict, "entry_not_active", err.Error())
	case errors.Is(err, matching.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, matching.ErrInvalidDateRange):
		writeError(w, http.StatusBadRequest, "invalid_date_range", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
