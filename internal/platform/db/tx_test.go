package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx embeds pgx.Tx so only the methods WithTx calls need bodies.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx     *fakeTx
	begins int
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.begins++
	f.tx = &fakeTx{}
	return f.tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	b := &fakeBeginner{}
	err := WithTx(context.Background(), b, func(ctx context.Context) error {
		if TxFromContext(ctx) == nil {
			t.Error("expected transaction on context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("expected commit without rollback, got %+v", b.tx)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{}
	want := errors.New("boom")
	err := WithTx(context.Background(), b, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("expected rollback, got %+v", b.tx)
	}
}

func TestWithTx_Nested(t *testing.T) {
	b := &fakeBeginner{}
	_ = WithTx(context.Background(), b, func(ctx context.Context) error {
		return WithTx(ctx, b, func(context.Context) error { return nil })
	})
	if b.begins != 1 {
		t.Errorf("expected nested call to reuse the transaction, got %d begins", b.begins)
	}
}

func TestConn_Fallback(t *testing.T) {
	if got := Conn(context.Background(), nil); got != nil {
		t.Errorf("expected fallback, got %v", got)
	}
}
