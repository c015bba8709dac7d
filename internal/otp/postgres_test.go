package otp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowFunc func(dest ...interface{}) error

func (f rowFunc) Scan(dest ...interface{}) error { return f(dest...) }

type fakeDB struct {
	execErr  error
	execTag  string
	rowErr   error
	rowValue interface{}
	queries  []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, strings.TrimSpace(sql))
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(f.execTag), nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	f.queries = append(f.queries, strings.TrimSpace(sql))
	return rowFunc(func(dest ...interface{}) error {
		if f.rowErr != nil {
			return f.rowErr
		}
		switch d := dest[0].(type) {
		case *string:
			*d = f.rowValue.(string)
		case *int:
			*d = f.rowValue.(int)
		}
		return nil
	})
}

func TestPGStore_IssueDriverError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}
	s := NewPGStore(db, Options{})

	_, err := s.Issue(context.Background(), "D1:P1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPGStore_VerifyMatch(t *testing.T) {
	db := &fakeDB{rowValue: "D1:P1"}
	s := NewPGStore(db, Options{})

	ok, err := s.Verify(context.Background(), "D1:P1", "1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGStore_VerifyNoRowIsFalse(t *testing.T) {
	db := &fakeDB{rowErr: pgx.ErrNoRows}
	s := NewPGStore(db, Options{})

	ok, err := s.Verify(context.Background(), "D1:P1", "1234")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, db.queries, 1, "unbounded attempts should not touch the attempts column")
}

func TestPGStore_VerifyDriverError(t *testing.T) {
	db := &fakeDB{rowErr: errors.New("timeout")}
	s := NewPGStore(db, Options{})

	ok, err := s.Verify(context.Background(), "D1:P1", "1234")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPGStore_SweepCount(t *testing.T) {
	db := &fakeDB{execTag: "DELETE 3"}
	s := NewPGStore(db, Options{})

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// Tests below run against a real database when HMS_TEST_DATABASE_URL is set.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("HMS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HMS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS otp_challenges (
			subject_key TEXT PRIMARY KEY,
			code_hash   TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			issued_at   TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL
		)`)
	require.NoError(t, err)
	return pool
}

func uniqueKey(t *testing.T) string {
	return fmt.Sprintf("%s:%d", t.Name(), time.Now().UnixNano())
}

func TestPGStore_Integration_RoundTripAndSingleUse(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := NewPGStore(pool, Options{})
	key := uniqueKey(t)

	code, err := s.Issue(ctx, key)
	require.NoError(t, err)

	ok, err := s.Verify(ctx, key, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify(ctx, key, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPGStore_Integration_SupersessionAndExpiry(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	clock := newFakeClock()
	s := NewPGStore(pool, Options{TTL: time.Minute})
	s.now = clock.Now
	key := uniqueKey(t)

	c1, err := s.Issue(ctx, key)
	require.NoError(t, err)
	c2, err := s.Issue(ctx, key)
	require.NoError(t, err)
	if c1 != c2 {
		ok, err := s.Verify(ctx, key, c1)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	clock.Advance(2 * time.Minute)
	ok, err := s.Verify(ctx, key, c2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPGStore_Integration_MaxAttempts(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := NewPGStore(pool, Options{MaxAttempts: 2})
	key := uniqueKey(t)

	code, err := s.Issue(ctx, key)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		ok, err := s.Verify(ctx, key, wrongCode(code))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := s.Verify(ctx, key, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPGStore_Integration_ConcurrentVerifySingleWinner(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := NewPGStore(pool, Options{})
	key := uniqueKey(t)

	code, err := s.Issue(ctx, key)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.Verify(ctx, key, code); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
