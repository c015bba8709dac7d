package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hospital/hms/internal/platform/auth"
	"github.com/hospital/hms/internal/platform/db"
	"github.com/hospital/hms/internal/platform/fieldcrypt"
)

const pgUniqueViolation = "23505"

type userRepoPG struct {
	pool   db.Querier
	cipher *fieldcrypt.Cipher
}

// NewUserRepoPG stores accounts in Postgres. Phone numbers are encrypted when
// cipher is enabled; email stays plain because it is the login key.
func NewUserRepoPG(pool db.Querier, cipher *fieldcrypt.Cipher) UserRepository {
	return &userRepoPG{pool: pool, cipher: cipher}
}

const userCols = `id, email, phone, full_name, role, password_hash, hospital_id,
	specialization, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	phone, err := r.sealPhone(u.Phone)
	if err != nil {
		return fmt.Errorf("user create: %w", err)
	}

	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, email, phone, full_name, role, password_hash, hospital_id,
			specialization, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Email, phone, u.FullName, u.Role, u.PasswordHash, u.HospitalID,
		u.Specialization, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()
	phone, err := r.sealPhone(u.Phone)
	if err != nil {
		return fmt.Errorf("user update: %w", err)
	}

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET phone = $2, full_name = $3, specialization = $4, updated_at = $5
		WHERE id = $1`,
		u.ID, phone, u.FullName, u.Specialization, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("user update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) ListDoctors(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*User, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE role = $1 AND ($2::uuid IS NULL OR hospital_id = $2)`,
		auth.RoleDoctor, hospitalID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("doctor count: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE role = $1 AND ($2::uuid IS NULL OR hospital_id = $2)
		ORDER BY full_name, id LIMIT $3 OFFSET $4`,
		auth.RoleDoctor, hospitalID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("doctor list: %w", err)
	}
	defer rows.Close()

	items := []*User{}
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("doctor list: %w", err)
	}
	return items, total, nil
}

func (r *userRepoPG) sealPhone(phone *string) (*string, error) {
	if phone == nil {
		return nil, nil
	}
	sealed, err := r.cipher.Encrypt(*phone)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.Role, &u.PasswordHash, &u.HospitalID,
		&u.Specialization, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user scan: %w", err)
	}
	if u.Phone != nil {
		plain, err := r.cipher.Decrypt(*u.Phone)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		u.Phone = &plain
	}
	return &u, nil
}
