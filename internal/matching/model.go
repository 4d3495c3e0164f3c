package matching

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

type SlotType string

const (
	SlotInPerson   SlotType = "in_person"
	SlotTelehealth SlotType = "telehealth"
)

type EntryStatus string

const (
	EntryActive    EntryStatus = "active"
	EntryScheduled EntryStatus = "scheduled"
	EntryRemoved   EntryStatus = "removed"
)

type AppointmentStatus string

const (
	ApptScheduled AppointmentStatus = "scheduled"
	ApptCompleted AppointmentStatus = "completed"
	ApptCancelled AppointmentStatus = "cancelled"
	ApptNoShow    AppointmentStatus = "no_show"
)

type Practice struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	Name        string
	Specialties []string
	Modalities  []string
	Telehealth  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimeWindow is a patient's preferred recurring availability window:
// any of the listed weekdays, between StartHour (inclusive) and
// EndHour (exclusive), in the practice's local time.
type TimeWindow struct {
	Days      []time.Weekday `json:"days"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
}

// PatientPreferences is a bag of optional scheduling preferences. Every
// field may be absent; absence always maps to the neutral scoring
// contribution, never to an error.
type PatientPreferences struct {
	Specialties    []string     `json:"specialties,omitempty"`
	Modalities     []string     `json:"modalities,omitempty"`
	Telehealth     *bool        `json:"telehealth,omitempty"`
	PreferredTimes []TimeWindow `json:"preferred_times,omitempty"`
	NoShowCount    int          `json:"no_show_count,omitempty"`
}

type Patient struct {
	ID                uuid.UUID
	Name              string
	InsuranceProvider *string
	Preferences       PatientPreferences
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Waitlist struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WaitlistEntry struct {
	ID                  uuid.UUID
	WaitlistID          uuid.UUID
	PatientID           uuid.UUID
	PreferredProviderID *uuid.UUID
	// PriorityScore is assigned upstream; the engine treats it as an
	// already-normalized contribution and never validates its scale.
	PriorityScore float64
	Status        EntryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type AppointmentSlot struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Status     SlotStatus
	SlotType   SlotType
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Appointment struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	PatientID       uuid.UUID
	SlotID          *uuid.UUID
	WaitlistEntryID *uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	Status          AppointmentStatus
	AppointmentType SlotType
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// WaitlistCandidate is one scoring candidate on the slot-to-patients
// path: an active entry joined with its patient.
type WaitlistCandidate struct {
	Entry   WaitlistEntry
	Patient Patient
}

// SlotCandidate is one scoring candidate on the patient-to-slots path:
// an available slot joined with its provider (whose PracticeID keys the
// candidate back to the patient's waitlist entry).
type SlotCandidate struct {
	Slot     AppointmentSlot
	Provider Provider
}

// PatientEntry pairs an active waitlist entry with the practice its
// waitlist belongs to.
type PatientEntry struct {
	Entry      WaitlistEntry
	PracticeID uuid.UUID
}
