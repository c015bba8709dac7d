package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the subset of pgxpool.Pool used by PGStore.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore keeps challenges in the otp_challenges table so every server
// instance sees the same codes. Consumption is a single conditional DELETE,
// which gives exactly one winner among concurrent verifications.
type PGStore struct {
	db          dbtx
	gen         *Generator
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewPGStore returns a Store backed by PostgreSQL.
func NewPGStore(db dbtx, opts Options) *PGStore {
	opts = opts.withDefaults()
	return &PGStore{
		db:          db,
		gen:         NewGenerator(opts.Length),
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}
}

func (s *PGStore) Issue(ctx context.Context, subjectKey string) (string, error) {
	code, err := s.gen.Generate()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()

	_, err = s.db.Exec(ctx, `
		INSERT INTO otp_challenges (subject_key, code_hash, attempts, issued_at, expires_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (subject_key) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			attempts = 0,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at`,
		subjectKey, HashCode(code), now, now.Add(s.ttl),
	)
	if err != nil {
		return "", fmt.Errorf("%w: issue: %v", ErrStoreUnavailable, err)
	}
	return code, nil
}

func (s *PGStore) Verify(ctx context.Context, subjectKey, candidate string) (bool, error) {
	now := s.now().UTC()

	var consumed string
	err := s.db.QueryRow(ctx, `
		DELETE FROM otp_challenges
		WHERE subject_key = $1 AND code_hash = $2 AND expires_at > $3
		RETURNING subject_key`,
		subjectKey, HashCode(candidate), now,
	).Scan(&consumed)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: verify: %v", ErrStoreUnavailable, err)
	}

	if s.maxAttempts > 0 {
		if err := s.recordFailure(ctx, subjectKey, now); err != nil {
			return false, err
		}
	}
	return false, nil
}

// recordFailure counts a wrong guess against a live challenge and drops the
// challenge once the attempt budget is spent.
func (s *PGStore) recordFailure(ctx context.Context, subjectKey string, now time.Time) error {
	var attempts int
	err := s.db.QueryRow(ctx, `
		UPDATE otp_challenges SET attempts = attempts + 1
		WHERE subject_key = $1 AND expires_at > $2
		RETURNING attempts`,
		subjectKey, now,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: record attempt: %v", ErrStoreUnavailable, err)
	}
	if attempts < s.maxAttempts {
		return nil
	}
	_, err = s.db.Exec(ctx,
		`DELETE FROM otp_challenges WHERE subject_key = $1 AND attempts >= $2`,
		subjectKey, s.maxAttempts,
	)
	if err != nil {
		return fmt.Errorf("%w: exhaust: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep deletes expired rows.
func (s *PGStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
