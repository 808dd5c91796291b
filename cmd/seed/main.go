package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medloop/patient-scheduler/internal/db"
)

const (
	providerCount = 12
	slotDays      = 5
)

// slotTimes mirrors the clinic's published grid: three slots per day.
var slotTimes = []struct{ hour, minute int }{
	{10, 0},
	{13, 0},
	{15, 30},
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

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, providerCount)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedSlots(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Cardiology",
		"Dermatology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
	}
	locations := []string{"Dallas", "Plano", "Frisco", "Richardson", "Irving"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		doctor := "Dr. " + gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		location := locations[gofakeit.Number(0, len(locations)-1)]
		rating := float64(gofakeit.Number(35, 50)) / 10

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, doctor, specialty, location, rating)
			VALUES ($1, $2, $3, $4, $5)
		`, id, doctor, specialty, location, rating)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

// seedSlots publishes the slot grid for the days after today. Conflicting
// rows are skipped so reseeding an existing database is safe.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d providers over %d days", len(providerIDs), slotDays)

	base := time.Now().UTC().Truncate(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for day := 1; day <= slotDays; day++ {
		for _, st := range slotTimes {
			start := base.AddDate(0, 0, day).
				Add(time.Duration(st.hour)*time.Hour + time.Duration(st.minute)*time.Minute)
			for _, providerID := range providerIDs {
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, provider_id, start, status)
					VALUES ($1, $2, $3, 'open')
					ON CONFLICT (provider_id, start) DO NOTHING
				`, uuid.New(), providerID, start)
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("slots seeded: %d", total)
	return nil
}
