package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; tests
// substitute a pgxmock pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanSlot(row pgx.Row) (*AppointmentSlot, error) {
	var s AppointmentSlot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.SlotType,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.PracticeID,
		&p.Name,
		&p.Specialties,
		&p.Modalities,
		&p.Telehealth,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var preferredTimes []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.InsuranceProvider,
		&p.Preferences.Specialties,
		&p.Preferences.Modalities,
		&p.Preferences.Telehealth,
		&preferredTimes,
		&p.Preferences.NoShowCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	if len(preferredTimes) > 0 {
		if err := json.Unmarshal(preferredTimes, &p.Preferences.PreferredTimes); err != nil {
			return nil, fmt.Errorf("decode preferred_times: %w", err)
		}
	}

	return &p, nil
}

func scanEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry

	err := row.Scan(
		&e.ID,
		&e.WaitlistID,
		&e.PatientID,
		&e.PreferredProviderID,
		&e.PriorityScore,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	return &e, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.SlotID,
		&a.WaitlistEntryID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.AppointmentType,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Interface methods

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, provider_id, start_time, end_time, status, slot_type, created_at, updated_at
		FROM appointment_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, practice_id, name, specialties, modalities, telehealth, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, insurance_provider, preferred_specialties, preferred_modalities,
		       telehealth_preference, preferred_times, no_show_count, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, waitlist_id, patient_id, preferred_provider_id, priority_score, status, created_at, updated_at
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, provider_id, patient_id, slot_id, waitlist_entry_id, start_time, end_time,
		       status, appointment_type, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// GetPracticeWeights reads the optional match_weights object from the
// practice settings. A missing practice or absent override is not an
// error; the caller falls back to defaults.
func (r *PgRepository) GetPracticeWeights(ctx context.Context, practiceID uuid.UUID) (*MatchWeights, error) {
	var raw []byte

	err := r.db.QueryRow(ctx, `
		SELECT settings -> 'match_weights'
		FROM practices
		WHERE id = $1
	`, practiceID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var w MatchWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode match_weights: %w", err)
	}
	return &w, nil
}

func (r *PgRepository) ListActiveEntriesByWaitlist(ctx context.Context, waitlistID uuid.UUID) ([]WaitlistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, waitlist_id, patient_id, preferred_provider_id, priority_score, status, created_at, updated_at
		FROM waitlist_entries
		WHERE waitlist_id = $1
		  AND status = 'active'
		ORDER BY created_at, id
	`, waitlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListCandidatesByPractice(ctx context.Context, practiceID uuid.UUID) ([]WaitlistCandidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.waitlist_id, e.patient_id, e.preferred_provider_id, e.priority_score,
		       e.status, e.created_at, e.updated_at,
		       p.id, p.name, p.insurance_provider, p.preferred_specialties, p.preferred_modalities,
		       p.telehealth_preference, p.preferred_times, p.no_show_count, p.created_at, p.updated_at
		FROM waitlist_entries e
		JOIN waitlists w ON w.id = e.waitlist_id
		JOIN patients p ON p.id = e.patient_id
		WHERE w.practice_id = $1
		  AND e.status = 'active'
		ORDER BY e.created_at, e.id
	`, practiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistCandidate
	for rows.Next() {
		var c WaitlistCandidate
		var preferredTimes []byte

		err := rows.Scan(
			&c.Entry.ID,
			&c.Entry.WaitlistID,
			&c.Entry.PatientID,
			&c.Entry.PreferredProviderID,
			&c.Entry.PriorityScore,
			&c.Entry.Status,
			&c.Entry.CreatedAt,
			&c.Entry.UpdatedAt,
			&c.Patient.ID,
			&c.Patient.Name,
			&c.Patient.InsuranceProvider,
			&c.Patient.Preferences.Specialties,
			&c.Patient.Preferences.Modalities,
			&c.Patient.Preferences.Telehealth,
			&preferredTimes,
			&c.Patient.Preferences.NoShowCount,
			&c.Patient.CreatedAt,
			&c.Patient.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(preferredTimes) > 0 {
			if err := json.Unmarshal(preferredTimes, &c.Patient.Preferences.PreferredTimes); err != nil {
				return nil, fmt.Errorf("decode preferred_times: %w", err)
			}
		}
		result = append(result, c)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListActiveEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]PatientEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.waitlist_id, e.patient_id, e.preferred_provider_id, e.priority_score,
		       e.status, e.created_at, e.updated_at, w.practice_id
		FROM waitlist_entries e
		JOIN waitlists w ON w.id = e.waitlist_id
		WHERE e.patient_id = $1
		  AND e.status = 'active'
		ORDER BY e.created_at, e.id
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PatientEntry
	for rows.Next() {
		var pe PatientEntry
		err := rows.Scan(
			&pe.Entry.ID,
			&pe.Entry.WaitlistID,
			&pe.Entry.PatientID,
			&pe.Entry.PreferredProviderID,
			&pe.Entry.PriorityScore,
			&pe.Entry.Status,
			&pe.Entry.CreatedAt,
			&pe.Entry.UpdatedAt,
			&pe.PracticeID,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, pe)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListAvailableSlotsByPractices(ctx context.Context, practiceIDs []uuid.UUID, from, to *time.Time) ([]SlotCandidate, error) {
	query := `
		SELECT s.id, s.provider_id, s.start_time, s.end_time, s.status, s.slot_type, s.created_at, s.updated_at,
		       pr.id, pr.practice_id, pr.name, pr.specialties, pr.modalities, pr.telehealth, pr.created_at, pr.updated_at
		FROM appointment_slots s
		JOIN providers pr ON pr.id = s.provider_id
		WHERE pr.practice_id = ANY($1)
		  AND s.status = 'available'
	`
	args := []any{practiceIDs}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND s.start_time >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND s.start_time <= $%d", len(args))
	}
	query += " ORDER BY s.start_time, s.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotCandidate
	for rows.Next() {
		var c SlotCandidate
		err := rows.Scan(
			&c.Slot.ID,
			&c.Slot.ProviderID,
			&c.Slot.StartTime,
			&c.Slot.EndTime,
			&c.Slot.Status,
			&c.Slot.SlotType,
			&c.Slot.CreatedAt,
			&c.Slot.UpdatedAt,
			&c.Provider.ID,
			&c.Provider.PracticeID,
			&c.Provider.Name,
			&c.Provider.Specialties,
			&c.Provider.Modalities,
			&c.Provider.Telehealth,
			&c.Provider.CreatedAt,
			&c.Provider.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	return result, rows.Err()
}

// AllocateSlot runs the three booking writes in one transaction. The
// conditional slot and entry updates run first: a losing concurrent
// caller fails the status check and gets a conflict error before any
// appointment row is attempted, and the transaction rolls back. The
// row lock taken by the winning update also serializes a racer for the
// same entry on a different slot, which the slot-scoped advisory lock
// cannot cover.
func (r *PgRepository) AllocateSlot(ctx context.Context, slot *AppointmentSlot, entry *WaitlistEntry) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointment_slots
		SET status = 'booked',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, slot.ID)
	if err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrSlotUnavailable
	}

	tag, err = tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'scheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
	`, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("schedule entry: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrEntryNotActive
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, slot_id, waitlist_entry_id,
		                          start_time, end_time, status, appointment_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', 'in_person', now(), now())
		RETURNING id, provider_id, patient_id, slot_id, waitlist_entry_id, start_time, end_time,
		          status, appointment_type, created_at, updated_at
	`, id, slot.ProviderID, entry.PatientID, slot.ID, entry.ID, slot.StartTime, slot.EndTime)

	appt, err := scanAppointment(row)
	if err != nil {
		// The partial unique indexes on slot_id and waitlist_entry_id
		// catch anything the status checks missed (a slot flipped back
		// to available while its appointment still lives, say). Still a
		// conflict, not an internal error.
		if isUniqueViolation(err, "uq_appointments_slot") {
			return nil, ErrSlotUnavailable
		}
		if isUniqueViolation(err, "uq_appointments_entry") {
			return nil, ErrEntryNotActive
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit allocation: %w", err)
	}

	return appt, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func (r *PgRepository) RemoveEntry(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'removed',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
	`, entryID)
	if err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing entry from one that already left the
	// active state.
	if _, err := r.GetEntryByID(ctx, entryID); err != nil {
		return err
	}
	return ErrEntryNotActive
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
