package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/carebridge/waitlist-engine/internal/redis"
)

const (
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventEntryRemoved     = "WAITLIST_ENTRY_REMOVED"
)

var (
	ErrSlotBeingBooked  = errors.New("slot is currently being booked, please retry")
	ErrInvalidDateRange = errors.New("end date must not precede start date")
)

// PatientRankOptions filter the candidate set before scoring on the
// slot-to-patients path.
type PatientRankOptions struct {
	InsuranceProvider *string
	MinPriorityScore  *float64
}

// SlotRankOptions restrict the slot window on the patient-to-slots
// path.
type SlotRankOptions struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// Service is the matching orchestrator: it pulls candidate sets from
// the repository, runs the scorers, and drives the one mutating
// operation, BookFromWaitlist. Scoring paths never write; they may run
// with unlimited concurrency.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
	// now is swapped in tests; the wait-time factor depends on it.
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

// Position reports an entry's 1-based rank among the active entries of
// its waitlist (higher priority score, earlier position).
func (s *Service) Position(ctx context.Context, entryID uuid.UUID) (*QueuePosition, error) {
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListActiveEntriesByWaitlist(ctx, entry.WaitlistID)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}

	pos := rankEntry(entry, active)
	return &pos, nil
}

// RankPatientsForSlot scores every active waitlist entry of the slot's
// practice against the slot and returns them sorted by score
// descending. Equal scores keep candidate-fetch order (stable sort).
func (s *Service) RankPatientsForSlot(ctx context.Context, slotID uuid.UUID, opts PatientRankOptions) ([]PatientMatch, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	provider, err := s.repo.GetProviderByID(ctx, slot.ProviderID)
	if err != nil {
		return nil, err
	}

	weights := DefaultMatchWeights()
	if override, err := s.repo.GetPracticeWeights(ctx, provider.PracticeID); err != nil {
		return nil, fmt.Errorf("load practice weights: %w", err)
	} else if override != nil {
		weights = *override
	}

	candidates, err := s.repo.ListCandidatesByPractice(ctx, provider.PracticeID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	now := s.now()
	matches := make([]PatientMatch, 0, len(candidates))
	for _, cand := range candidates {
		if !passesPatientFilters(cand, opts) {
			continue
		}
		score, breakdown := ScorePatientForSlot(now, weights, slot, provider, cand)
		matches = append(matches, PatientMatch{
			PatientID: cand.Patient.ID,
			EntryID:   cand.Entry.ID,
			Score:     score,
			Breakdown: breakdown,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// RankSlotsForPatient scores available slots from every practice where
// the patient holds an active waitlist entry. A patient with no active
// entries gets an empty result, not an error; a slot whose practice has
// no matching entry is silently dropped.
func (s *Service) RankSlotsForPatient(ctx context.Context, patientID uuid.UUID, opts SlotRankOptions) ([]SlotMatch, error) {
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return nil, ErrInvalidDateRange
	}

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListActiveEntriesByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient entries: %w", err)
	}
	if len(entries) == 0 {
		return []SlotMatch{}, nil
	}

	entryByPractice := make(map[uuid.UUID]*WaitlistEntry, len(entries))
	practiceIDs := make([]uuid.UUID, 0, len(entries))
	for i := range entries {
		pid := entries[i].PracticeID
		if _, seen := entryByPractice[pid]; seen {
			continue
		}
		entryByPractice[pid] = &entries[i].Entry
		practiceIDs = append(practiceIDs, pid)
	}

	slots, err := s.repo.ListAvailableSlotsByPractices(ctx, practiceIDs, opts.StartDate, opts.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	matches := make([]SlotMatch, 0, len(slots))
	for _, cand := range slots {
		entry, ok := entryByPractice[cand.Provider.PracticeID]
		if !ok {
			continue
		}
		score, breakdown := ScoreSlotForPatient(patient, entry, cand)
		matches = append(matches, SlotMatch{
			SlotID:     cand.Slot.ID,
			ProviderID: cand.Provider.ID,
			Score:      score,
			Breakdown:  breakdown,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// BookFromWaitlist atomically converts a (slot, entry) pair into a
// scheduled appointment, marking the slot booked and the entry
// scheduled. Exactly one of two concurrent callers for the same slot
// or entry succeeds; the loser gets a conflict error.
func (s *Service) BookFromWaitlist(ctx context.Context, slotID, entryID uuid.UUID) (*Appointment, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var booked *Appointment

	err = s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		appt, err := s.repo.AllocateSlot(lockCtx, slot, entry)
		if err != nil {
			return err
		}
		booked = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("slot_id", slotID.String()).
		Str("entry_id", entryID.String()).
		Str("appointment_id", booked.ID.String()).
		Msg("waitlist booking completed")

	s.logEvent(ctx, booked.ID, EventBookingCompleted, map[string]any{
		"slot_id":    slotID.String(),
		"entry_id":   entryID.String(),
		"patient_id": booked.PatientID.String(),
		"start_time": booked.StartTime,
		"end_time":   booked.EndTime,
	})

	return booked, nil
}

// RemoveEntry is the explicit removal operation: it retires an active
// entry without booking it.
func (s *Service) RemoveEntry(ctx context.Context, entryID uuid.UUID) error {
	if err := s.repo.RemoveEntry(ctx, entryID); err != nil {
		return err
	}
	s.logEvent(ctx, uuid.Nil, EventEntryRemoved, map[string]any{
		"entry_id": entryID.String(),
	})
	return nil
}

// GetAppointment reads back a booking for the API layer.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func passesPatientFilters(cand WaitlistCandidate, opts PatientRankOptions) bool {
	if opts.MinPriorityScore != nil && cand.Entry.PriorityScore < *opts.MinPriorityScore {
		return false
	}
	if opts.InsuranceProvider != nil {
		if cand.Patient.InsuranceProvider == nil {
			return false
		}
		if !strings.EqualFold(*cand.Patient.InsuranceProvider, *opts.InsuranceProvider) {
			return false
		}
	}
	return true
}

// logEvent writes are best effort; a failed event row never fails the
// operation that produced it.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: s.now(),
	}
	if appointmentID != uuid.Nil {
		apptID := appointmentID
		ev.AppointmentID = &apptID
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("insert event log")
	}
}
