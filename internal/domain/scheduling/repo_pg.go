package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hospital/hms/internal/platform/db"
)

type repoPG struct {
	pool db.Querier
}

func NewRepoPG(pool db.Querier) Repository {
	return &repoPG{pool: pool}
}

const appointmentCols = `id, patient_id, doctor_id, hospital_id, scheduled_at, reason, status,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, hospital_id, scheduled_at, reason, status,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.DoctorID, a.HospitalID, a.ScheduledAt, a.Reason, a.Status,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointment create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentCols,
		id, from, to, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	return a, err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	conn := db.Conn(ctx, r.pool)
	const where = `WHERE ($1::uuid IS NULL OR patient_id = $1) AND ($2::uuid IS NULL OR doctor_id = $2)`

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointments `+where, f.PatientID, f.DoctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("appointment count: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT `+appointmentCols+` FROM appointments `+where+`
		ORDER BY scheduled_at DESC, id LIMIT $3 OFFSET $4`,
		f.PatientID, f.DoctorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("appointment list: %w", err)
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("appointment list: %w", err)
	}
	return items, total, nil
}

// The scan error wraps pgx.ErrNoRows, so callers can test for it.
func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.HospitalID, &a.ScheduledAt, &a.Reason, &a.Status,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("appointment scan: %w", err)
	}
	return &a, nil
}
