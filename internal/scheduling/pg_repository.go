package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// InTx begins a transaction and runs fn against a repository bound to it.
// Slot and appointment point lookups inside the transaction use
// SELECT ... FOR UPDATE, so conflicting writers queue on the row instead of
// racing past the availability check. Nested calls reuse the open transaction.
func (r *PgRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &PgRepository{pool: r.pool, q: tx, inTx: true}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockClause appends FOR UPDATE only inside a transaction; a row lock on a
// plain pool query would be released immediately anyway.
func (r *PgRepository) lockClause() string {
	if r.inTx {
		return " FOR UPDATE"
	}
	return ""
}

// isUniqueViolation reports whether err is the confirmed-per-time index
// firing. The caller treats that as the authoritative slot conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Scan helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Doctor, &p.Specialty, &p.Location, &p.Rating)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ProviderID, &s.Start, &s.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ProviderID, &a.PatientName, &a.Start, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	err := row.Scan(
		&d.ID,
		&d.ProviderID,
		&d.PatientName,
		&d.Start,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Doctor,
		&d.Location,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Providers

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, doctor, specialty, location, rating
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor, specialty, location, rating
		FROM providers
		ORDER BY rating DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProviders(rows)
}

func (r *PgRepository) SearchProviders(ctx context.Context, query string) ([]Provider, error) {
	pattern := "%" + query + "%"
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor, specialty, location, rating
		FROM providers
		WHERE doctor ILIKE $1 OR specialty ILIKE $1 OR location ILIKE $1
		ORDER BY rating DESC
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProviders(rows)
}

func collectProviders(rows pgx.Rows) ([]Provider, error) {
	var result []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Slots

func (r *PgRepository) GetSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, provider_id, start, status
		FROM slots
		WHERE provider_id = $1 AND start = $2
	`+r.lockClause(), providerID, start)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, providerID uuid.UUID, after time.Time, limit int) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, provider_id, start, status
		FROM slots
		WHERE provider_id = $1 AND status = 'open' AND start > $2
		ORDER BY start
		LIMIT $3
	`, providerID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) SetSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set slot status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// FreeSlotAt reopens the slot at the given time if one was ever published.
// A missing slot row is not an error: the appointment may have been booked
// for an unpublished time.
func (r *PgRepository) FreeSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE slots SET status = 'open' WHERE provider_id = $1 AND start = $2
	`, providerID, start)
	if err != nil {
		return fmt.Errorf("free slot: %w", err)
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, provider_id, patient_name, start, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`+r.lockClause(), id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.q.QueryRow(ctx, `
		SELECT a.id, a.provider_id, a.patient_name, a.start, a.status, a.created_at, a.updated_at,
		       p.doctor, p.location
		FROM appointments a
		JOIN providers p ON p.id = a.provider_id
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context) ([]AppointmentDetail, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.provider_id, a.patient_name, a.start, a.status, a.created_at, a.updated_at,
		       p.doctor, p.location
		FROM appointments a
		JOIN providers p ON p.id = a.provider_id
		ORDER BY a.start DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointmentDetails(rows)
}

func collectAppointmentDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, appt Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (id, provider_id, patient_name, start, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.ID, appt.ProviderID, appt.PatientName, appt.Start, appt.Status, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, appt Appointment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET start = $2,
		    status = $3,
		    updated_at = $4
		WHERE id = $1
	`, appt.ID, appt.Start, appt.Status, appt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// FindUpcomingWithoutReminder returns confirmed appointments starting in the
// window that have no reminderEvent row logged yet.
func (r *PgRepository) FindUpcomingWithoutReminder(ctx context.Context, from, until time.Time, reminderEvent string) ([]AppointmentDetail, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.provider_id, a.patient_name, a.start, a.status, a.created_at, a.updated_at,
		       p.doctor, p.location
		FROM appointments a
		JOIN providers p ON p.id = a.provider_id
		WHERE a.status = 'confirmed'
		  AND a.start >= $1
		  AND a.start < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM event_logs e
		      WHERE e.appointment_id = a.id AND e.event_type = $3
		  )
		ORDER BY a.start
	`, from, until, reminderEvent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointmentDetails(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
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
