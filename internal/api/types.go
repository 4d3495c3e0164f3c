package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/waitlist-engine/internal/matching"
)

type AllocateRequest struct {
	SlotID  string `json:"slot_id"`
	EntryID string `json:"entry_id"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	SlotID          *uuid.UUID `json:"slot_id,omitempty"`
	WaitlistEntryID *uuid.UUID `json:"waitlist_entry_id,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Status          string     `json:"status"`
	AppointmentType string     `json:"appointment_type"`
}

type PositionResponse struct {
	EntryID       uuid.UUID `json:"entry_id"`
	Position      int       `json:"position"`
	Total         int       `json:"total"`
	PriorityScore float64   `json:"priority_score"`
}

type PatientMatchesResponse struct {
	SlotID  uuid.UUID               `json:"slot_id"`
	Matches []matching.PatientMatch `json:"matches"`
}

type SlotMatchesResponse struct {
	PatientID uuid.UUID            `json:"patient_id"`
	Matches   []matching.SlotMatch `json:"matches"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *matching.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		PatientID:       a.PatientID,
		SlotID:          a.SlotID,
		WaitlistEntryID: a.WaitlistEntryID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          string(a.Status),
		AppointmentType: string(a.AppointmentType),
	}
}
