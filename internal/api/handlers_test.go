package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/waitlist-engine/internal/matching"
	redisclient "github.com/carebridge/waitlist-engine/internal/redis"
)

// stubRepo backs a real matching.Service with canned data so handler
// tests exercise the full route -> service -> error-mapping path.
type stubRepo struct {
	slot        *matching.AppointmentSlot
	provider    *matching.Provider
	patient     *matching.Patient
	entry       *matching.WaitlistEntry
	appointment *matching.Appointment

	activeEntries  []matching.WaitlistEntry
	candidates     []matching.WaitlistCandidate
	patientEntries []matching.PatientEntry
	slotCandidates []matching.SlotCandidate

	allocateErr error
}

func (s *stubRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*matching.AppointmentSlot, error) {
	if s.slot != nil && s.slot.ID == id {
		return s.slot, nil
	}
	return nil, matching.ErrSlotNotFound
}

func (s *stubRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*matching.Provider, error) {
	if s.provider != nil && s.provider.ID == id {
		return s.provider, nil
	}
	return nil, matching.ErrProviderNotFound
}

func (s *stubRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*matching.Patient, error) {
	if s.patient != nil && s.patient.ID == id {
		return s.patient, nil
	}
	return nil, matching.ErrPatientNotFound
}

func (s *stubRepo) GetEntryByID(_ context.Context, id uuid.UUID) (*matching.WaitlistEntry, error) {
	if s.entry != nil && s.entry.ID == id {
		return s.entry, nil
	}
	return nil, matching.ErrEntryNotFound
}

func (s *stubRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*matching.Appointment, error) {
	if s.appointment != nil && s.appointment.ID == id {
		return s.appointment, nil
	}
	return nil, matching.ErrAppointmentNotFound
}

func (s *stubRepo) GetPracticeWeights(_ context.Context, _ uuid.UUID) (*matching.MatchWeights, error) {
	return nil, nil
}

func (s *stubRepo) ListActiveEntriesByWaitlist(_ context.Context, _ uuid.UUID) ([]matching.WaitlistEntry, error) {
	return s.activeEntries, nil
}

func (s *stubRepo) ListCandidatesByPractice(_ context.Context, _ uuid.UUID) ([]matching.WaitlistCandidate, error) {
	return s.candidates, nil
}

func (s *stubRepo) ListActiveEntriesByPatient(_ context.Context, _ uuid.UUID) ([]matching.PatientEntry, error) {
	return s.patientEntries, nil
}

func (s *stubRepo) ListAvailableSlotsByPractices(_ context.Context, _ []uuid.UUID, _, _ *time.Time) ([]matching.SlotCandidate, error) {
	return s.slotCandidates, nil
}

func (s *stubRepo) AllocateSlot(_ context.Context, slot *matching.AppointmentSlot, entry *matching.WaitlistEntry) (*matching.Appointment, error) {
	if s.allocateErr != nil {
		return nil, s.allocateErr
	}
	slotID := slot.ID
	entryID := entry.ID
	return &matching.Appointment{
		ID:              uuid.New(),
		ProviderID:      slot.ProviderID,
		PatientID:       entry.PatientID,
		SlotID:          &slotID,
		WaitlistEntryID: &entryID,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Status:          matching.ApptScheduled,
		AppointmentType: matching.SlotInPerson,
	}, nil
}

func (s *stubRepo) RemoveEntry(_ context.Context, entryID uuid.UUID) error {
	if s.entry == nil || s.entry.ID != entryID {
		return matching.ErrEntryNotFound
	}
	if s.entry.Status != matching.EntryActive {
		return matching.ErrEntryNotActive
	}
	s.entry.Status = matching.EntryRemoved
	return nil
}

func (s *stubRepo) InsertEvent(_ context.Context, _ matching.EventLog) error {
	return nil
}

type stubLocker struct{ err error }

func (l *stubLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func newTestRouter(repo *stubRepo, locker redisclient.Locker) http.Handler {
	svc := matching.NewService(repo, locker, zerolog.Nop())
	return NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Env:     "test",
		Version: "test",
	})
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestPositionEndpoint(t *testing.T) {
	entry := matching.WaitlistEntry{
		ID:            uuid.New(),
		WaitlistID:    uuid.New(),
		PatientID:     uuid.New(),
		PriorityScore: 0.7,
		Status:        matching.EntryActive,
	}
	repo := &stubRepo{
		entry: &entry,
		activeEntries: []matching.WaitlistEntry{
			{ID: uuid.New(), PriorityScore: 0.9, Status: matching.EntryActive},
			entry,
		},
	}
	router := newTestRouter(repo, &stubLocker{})

	rec := doRequest(t, router, http.MethodGet, "/waitlist-entries/"+entry.ID.String()+"/position", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PositionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, entry.ID, resp.EntryID)
	assert.Equal(t, 2, resp.Position)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 0.7, resp.PriorityScore)
}

func TestPositionEndpoint_BadAndMissingIDs(t *testing.T) {
	router := newTestRouter(&stubRepo{}, &stubLocker{})

	rec := doRequest(t, router, http.MethodGet, "/waitlist-entries/not-a-uuid/position", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_entry_id", decodeError(t, rec).Error)

	rec = doRequest(t, router, http.MethodGet, "/waitlist-entries/"+uuid.NewString()+"/position", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "entry_not_found", decodeError(t, rec).Error)
}

func TestCandidatesEndpoint(t *testing.T) {
	provider := &matching.Provider{ID: uuid.New(), PracticeID: uuid.New()}
	slot := &matching.AppointmentSlot{
		ID:         uuid.New(),
		ProviderID: provider.ID,
		StartTime:  time.Now().Add(24 * time.Hour),
		EndTime:    time.Now().Add(25 * time.Hour),
		Status:     matching.SlotAvailable,
		SlotType:   matching.SlotInPerson,
	}
	repo := &stubRepo{
		slot:     slot,
		provider: provider,
		candidates: []matching.WaitlistCandidate{
			{
				Entry:   matching.WaitlistEntry{ID: uuid.New(), PatientID: uuid.New(), PriorityScore: 0.4, Status: matching.EntryActive, CreatedAt: time.Now().AddDate(0, 0, -10)},
				Patient: matching.Patient{ID: uuid.New()},
			},
			{
				Entry:   matching.WaitlistEntry{ID: uuid.New(), PatientID: uuid.New(), PriorityScore: 0.9, Status: matching.EntryActive, CreatedAt: time.Now().AddDate(0, 0, -10)},
				Patient: matching.Patient{ID: uuid.New()},
			},
		},
	}
	router := newTestRouter(repo, &stubLocker{})

	rec := doRequest(t, router, http.MethodGet, "/slots/"+slot.ID.String()+"/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PatientMatchesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, slot.ID, resp.SlotID)
	require.Len(t, resp.Matches, 2)
	assert.GreaterOrEqual(t, resp.Matches[0].Score, resp.Matches[1].Score)
}

func TestCandidatesEndpoint_QueryValidation(t *testing.T) {
	router := newTestRouter(&stubRepo{}, &stubLocker{})
	target := fmt.Sprintf("/slots/%s/candidates?min_priority=high", uuid.New())

	rec := doRequest(t, router, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_min_priority", decodeError(t, rec).Error)
}

func TestSlotMatchesEndpoint(t *testing.T) {
	patient := &matching.Patient{ID: uuid.New()}
	router := newTestRouter(&stubRepo{patient: patient}, &stubLocker{})

	// No active entries means an empty match list, not an error.
	rec := doRequest(t, router, http.MethodGet, "/patients/"+patient.ID.String()+"/slot-matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SlotMatchesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, patient.ID, resp.PatientID)
	assert.Empty(t, resp.Matches)
}

func TestSlotMatchesEndpoint_DateValidation(t *testing.T) {
	patient := &matching.Patient{ID: uuid.New()}
	router := newTestRouter(&stubRepo{patient: patient}, &stubLocker{})
	base := "/patients/" + patient.ID.String() + "/slot-matches"

	rec := doRequest(t, router, http.MethodGet, base+"?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_start_date", decodeError(t, rec).Error)

	rec = doRequest(t, router, http.MethodGet,
		base+"?start_date=2026-06-02T00:00:00Z&end_date=2026-06-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date_range", decodeError(t, rec).Error)
}

func allocationStub() *stubRepo {
	providerID := uuid.New()
	start := time.Now().Add(48 * time.Hour)
	return &stubRepo{
		slot: &matching.AppointmentSlot{
			ID:         uuid.New(),
			ProviderID: providerID,
			StartTime:  start,
			EndTime:    start.Add(50 * time.Minute),
			Status:     matching.SlotAvailable,
			SlotType:   matching.SlotInPerson,
		},
		entry: &matching.WaitlistEntry{
			ID:        uuid.New(),
			PatientID: uuid.New(),
			Status:    matching.EntryActive,
		},
	}
}

func TestAllocateEndpoint_Created(t *testing.T) {
	repo := allocationStub()
	router := newTestRouter(repo, &stubLocker{})

	rec := doRequest(t, router, http.MethodPost, "/allocations", AllocateRequest{
		SlotID:  repo.slot.ID.String(),
		EntryID: repo.entry.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scheduled", resp.Status)
	require.NotNil(t, resp.SlotID)
	assert.Equal(t, repo.slot.ID, *resp.SlotID)
	assert.Equal(t, repo.entry.PatientID, resp.PatientID)
}

func TestAllocateEndpoint_Conflicts(t *testing.T) {
	repo := allocationStub()
	repo.allocateErr = matching.ErrSlotUnavailable
	router := newTestRouter(repo, &stubLocker{})

	body := AllocateRequest{SlotID: repo.slot.ID.String(), EntryID: repo.entry.ID.String()}

	rec := doRequest(t, router, http.MethodPost, "/allocations", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeError(t, rec).Error)

	// A held per-slot lock maps to the same status with its own code.
	busyRepo := allocationStub()
	busyRouter := newTestRouter(busyRepo, &stubLocker{err: redisclient.ErrLockNotAcquired})

	rec = doRequest(t, busyRouter, http.MethodPost, "/allocations", AllocateRequest{
		SlotID:  busyRepo.slot.ID.String(),
		EntryID: busyRepo.entry.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_being_booked", decodeError(t, rec).Error)
}

func TestAllocateEndpoint_BadRequests(t *testing.T) {
	router := newTestRouter(allocationStub(), &stubLocker{})

	req := httptest.NewRequest(http.MethodPost, "/allocations", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	rec = doRequest(t, router, http.MethodPost, "/allocations", AllocateRequest{
		SlotID:  "nope",
		EntryID: uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_id", decodeError(t, rec).Error)
}

func TestRemoveEntryEndpoint(t *testing.T) {
	repo := allocationStub()
	router := newTestRouter(repo, &stubLocker{})
	target := "/waitlist-entries/" + repo.entry.ID.String()

	rec := doRequest(t, router, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Second delete hits an entry that already left the active state.
	rec = doRequest(t, router, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "entry_not_active", decodeError(t, rec).Error)
}

func TestGetAppointmentEndpoint(t *testing.T) {
	apptID := uuid.New()
	repo := &stubRepo{
		appointment: &matching.Appointment{
			ID:              apptID,
			ProviderID:      uuid.New(),
			PatientID:       uuid.New(),
			StartTime:       time.Now(),
			EndTime:         time.Now().Add(time.Hour),
			Status:          matching.ApptScheduled,
			AppointmentType: matching.SlotInPerson,
		},
	}
	router := newTestRouter(repo, &stubLocker{})

	rec := doRequest(t, router, http.MethodGet, "/appointments/"+apptID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apptID, resp.ID)

	rec = doRequest(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}
