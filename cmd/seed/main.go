package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/waitlist-engine/internal/db"
	"github.com/carebridge/waitlist-engine/internal/matching"
)

var specialties = []string{
	"ADHD",
	"Anxiety",
	"Depression",
	"Couples Therapy",
	"Trauma",
	"Eating Disorders",
	"Substance Use",
	"Child & Adolescent",
	"Geriatric",
	"OCD",
}

var modalities = []string{
	"CBT",
	"DBT",
	"EMDR",
	"Psychodynamic",
	"ACT",
	"Family Systems",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()

	practiceIDs, err := seedPractices(seedCtx, pool, 5)
	if err != nil {
		log.Fatalf("seed practices: %v", err)
	}
	providersByPractice, err := seedProviders(seedCtx, pool, practiceIDs, 8)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	patientIDs, err := seedPatients(seedCtx, pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	waitlistIDs, err := seedWaitlists(seedCtx, pool, practiceIDs)
	if err != nil {
		log.Fatalf("seed waitlists: %v", err)
	}
	if err := seedEntries(seedCtx, pool, waitlistIDs, patientIDs, providersByPractice, 3000); err != nil {
		log.Fatalf("seed waitlist entries: %v", err)
	}
	if err := seedSlots(seedCtx, pool, providersByPractice, 30); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedPractices(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d practices", count)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()

		// Every other practice carries a weight override so both
		// scoring configurations show up in dev data.
		settings := map[string]any{}
		if i%2 == 1 {
			settings["match_weights"] = matching.MatchWeights{
				WaitTime:           0.35,
				Priority:           0.30,
				ProviderPreference: 0.15,
				SpecialtyMatch:     0.12,
				ModalityMatch:      0.08,
			}
		}
		raw, err := json.Marshal(settings)
		if err != nil {
			return nil, err
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO practices (id, name, settings, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Company()+" Behavioral Health", raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	log.Println("practices seeded")
	return ids, nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, practiceIDs []uuid.UUID, perPractice int) (map[uuid.UUID][]uuid.UUID, error) {
	log.Printf("seeding %d providers per practice", perPractice)

	byPractice := make(map[uuid.UUID][]uuid.UUID, len(practiceIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, practiceID := range practiceIDs {
		for i := 0; i < perPractice; i++ {
			id := uuid.New()
			specs := pickSome(specialties, 1, 3)
			mods := pickSome(modalities, 1, 2)

			_, err := tx.Exec(ctx, `
				INSERT INTO providers (id, practice_id, name, specialties, modalities, telehealth, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			`, id, practiceID, "Dr. "+gofakeit.Name(), specs, mods, gofakeit.Bool())
			if err != nil {
				return nil, err
			}
			byPractice[practiceID] = append(byPractice[practiceID], id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return byPractice, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	insurers := []string{"Aetna", "BlueCross", "Cigna", "United", "Kaiser"}

	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()

			var insurance *string
			if gofakeit.Number(0, 9) < 8 {
				ins := insurers[gofakeit.Number(0, len(insurers)-1)]
				insurance = &ins
			}

			var telehealth *bool
			if gofakeit.Number(0, 2) > 0 {
				b := gofakeit.Bool()
				telehealth = &b
			}

			var preferredTimes []byte
			if gofakeit.Bool() {
				windows := []matching.TimeWindow{{
					Days:      []time.Weekday{time.Weekday(gofakeit.Number(1, 5))},
					StartHour: gofakeit.Number(8, 12),
					EndHour:   gofakeit.Number(13, 18),
				}}
				preferredTimes, err = json.Marshal(windows)
				if err != nil {
					_ = tx.Rollback(ctx)
					return nil, err
				}
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, insurance_provider, preferred_specialties, preferred_modalities,
				                      telehealth_preference, preferred_times, no_show_count, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			`, id, gofakeit.Name(), insurance, pickSome(specialties, 0, 2), pickSome(modalities, 0, 2),
				telehealth, preferredTimes, gofakeit.Number(0, 3))
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return ids, nil
}

func seedWaitlists(ctx context.Context, pool *pgxpool.Pool, practiceIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	log.Println("seeding one waitlist per practice")

	byPractice := make(map[uuid.UUID]uuid.UUID, len(practiceIDs))
	for _, practiceID := range practiceIDs {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO waitlists (id, practice_id, name, description, created_at, updated_at)
			VALUES ($1, $2, 'General Waitlist', 'Default intake waitlist', now(), now())
		`, id, practiceID)
		if err != nil {
			return nil, err
		}
		byPractice[practiceID] = id
	}

	log.Println("waitlists seeded")
	return byPractice, nil
}

func seedEntries(ctx context.Context, pool *pgxpool.Pool, waitlistsByPractice map[uuid.UUID]uuid.UUID,
	patientIDs []uuid.UUID, providersByPractice map[uuid.UUID][]uuid.UUID, count int) error {
	log.Printf("seeding %d waitlist entries", count)

	practices := make([]uuid.UUID, 0, len(waitlistsByPractice))
	for practiceID := range waitlistsByPractice {
		practices = append(practices, practiceID)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		practiceID := practices[gofakeit.Number(0, len(practices)-1)]
		patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]

		var preferredProvider *uuid.UUID
		if providers := providersByPractice[practiceID]; len(providers) > 0 && gofakeit.Bool() {
			p := providers[gofakeit.Number(0, len(providers)-1)]
			preferredProvider = &p
		}

		// createdAt spread over the last 120 days so the wait-time
		// factor spans its whole [0,1] range.
		createdAt := time.Now().AddDate(0, 0, -gofakeit.Number(0, 120))

		_, err := tx.Exec(ctx, `
			INSERT INTO waitlist_entries (id, waitlist_id, patient_id, preferred_provider_id,
			                              priority_score, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'active', $6, $6)
		`, uuid.New(), waitlistsByPractice[practiceID], patientID, preferredProvider,
			gofakeit.Float64Range(0, 1), createdAt)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("waitlist entries seeded")
	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, providersByPractice map[uuid.UUID][]uuid.UUID, perProvider int) error {
	log.Printf("seeding %d slots per provider", perProvider)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providers := range providersByPractice {
		for _, providerID := range providers {
			for i := 0; i < perProvider; i++ {
				start := time.Now().
					AddDate(0, 0, gofakeit.Number(1, 30)).
					Truncate(time.Hour).
					Add(time.Duration(gofakeit.Number(8, 17)) * time.Hour)

				slotType := matching.SlotInPerson
				if gofakeit.Number(0, 2) == 0 {
					slotType = matching.SlotTelehealth
				}

				_, err := tx.Exec(ctx, `
					INSERT INTO appointment_slots (id, provider_id, start_time, end_time, status, slot_type, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 'available', $5, now(), now())
				`, uuid.New(), providerID, start, start.Add(50*time.Minute), slotType)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("slots seeded")
	return nil
}

func pickSome(from []string, minN, maxN int) []string {
	n := gofakeit.Number(minN, maxN)
	if n == 0 {
		return []string{}
	}

	picked := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(picked) < n {
		s := from[gofakeit.Number(0, len(from)-1)]
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		picked = append(picked, s)
	}
	return picked
}
