package matching

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrEntryNotFound       = errors.New("waitlist entry not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// Conflict class: a concurrent caller already consumed the slot or
	// the entry. Returned instead of silently overwriting their booking.
	ErrSlotUnavailable = errors.New("slot is no longer available")
	ErrEntryNotActive  = errors.New("waitlist entry is no longer active")
)

// Repository contains all DB interactions needed by the service.
// Scoring paths are read-only; AllocateSlot and RemoveEntry are the
// only mutating operations.
type Repository interface {
	GetSlotByID(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Per-practice weight overrides; (nil, nil) when the practice has
	// none configured and the defaults apply.
	GetPracticeWeights(ctx context.Context, practiceID uuid.UUID) (*MatchWeights, error)

	// Candidate sets. Fetch order is part of the contract: result
	// ranking is a stable sort, so equal scores keep this order.
	ListActiveEntriesByWaitlist(ctx context.Context, waitlistID uuid.UUID) ([]WaitlistEntry, error)
	ListCandidatesByPractice(ctx context.Context, practiceID uuid.UUID) ([]WaitlistCandidate, error)
	ListActiveEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]PatientEntry, error)
	ListAvailableSlotsByPractices(ctx context.Context, practiceIDs []uuid.UUID, from, to *time.Time) ([]SlotCandidate, error)

	// AllocateSlot performs the whole booking in one transaction:
	// appointment insert, slot -> booked, entry -> scheduled. Both
	// updates are conditional on the current status so a losing
	// concurrent caller gets ErrSlotUnavailable or ErrEntryNotActive
	// and nothing is committed.
	AllocateSlot(ctx context.Context, slot *AppointmentSlot, entry *WaitlistEntry) (*Appointment, error)

	// RemoveEntry retires an active entry (status -> removed).
	RemoveEntry(ctx context.Context, entryID uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
