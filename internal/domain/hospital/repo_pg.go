package hospital

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hospital/hms/internal/platform/db"
)

// pgPool is satisfied by *pgxpool.Pool.
type pgPool interface {
	db.Querier
	db.TxBeginner
}

type repoPG struct {
	pool pgPool
}

func NewRepoPG(pool pgPool) Repository {
	return &repoPG{pool: pool}
}

const hospitalCols = `id, name, address, phone, email, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO hospitals (id, name, address, phone, email, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.Name, h.Address, h.Phone, h.Email, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("hospital create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, h *Hospital) error {
	h.UpdatedAt = time.Now().UTC()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE hospitals SET name = $2, address = $3, phone = $4, email = $5, updated_at = $6
		WHERE id = $1 RETURNING created_at`,
		h.ID, h.Name, h.Address, h.Phone, h.Email, h.UpdatedAt).Scan(&h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("hospital update: %w", err)
	}
	return nil
}

// Delete removes the hospital. Doctors and records keep existing with their
// hospital_id cleared by the foreign key.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM hospitals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("hospital delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("hospital count: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT `+hospitalCols+` FROM hospitals ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("hospital list: %w", err)
	}
	defer rows.Close()

	items := []*Hospital{}
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AssignDoctor(ctx context.Context, hospitalID, doctorID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hospitals WHERE id = $1)`, hospitalID).Scan(&exists); err != nil {
			return fmt.Errorf("hospital lookup: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		tag, err := conn.Exec(ctx,
			`UPDATE users SET hospital_id = $1, updated_at = now() WHERE id = $2 AND role = 'doctor'`,
			hospitalID, doctorID)
		if err != nil {
			return fmt.Errorf("assign doctor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDoctorNotFound
		}
		return nil
	})
}

func (r *repoPG) ListDoctors(ctx context.Context, hospitalID uuid.UUID) ([]*Doctor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, full_name, email, specialization FROM users
		WHERE hospital_id = $1 AND role = 'doctor' ORDER BY full_name, id`, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("hospital doctors: %w", err)
	}
	defer rows.Close()

	items := []*Doctor{}
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FullName, &d.Email, &d.Specialization); err != nil {
			return nil, fmt.Errorf("hospital doctors scan: %w", err)
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	if err := row.Scan(&h.ID, &h.Name, &h.Address, &h.Phone, &h.Email, &h.CreatedAt, &h.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hospital scan: %w", err)
	}
	return &h, nil
}
