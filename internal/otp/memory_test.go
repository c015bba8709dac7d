package otp

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(opts Options) (*MemoryStore, *fakeClock) {
	clock := newFakeClock()
	s := NewMemoryStore(opts)
	s.now = clock.Now
	return s, clock
}

// wrongCode returns a code of the same length that differs from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func TestMemoryStore_IssueFormat(t *testing.T) {
	s, _ := newTestStore(Options{})
	re := regexp.MustCompile(`^[0-9]{4}$`)
	for i := 0; i < 200; i++ {
		code, err := s.Issue(context.Background(), fmt.Sprintf("d-%d:p-1", i))
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestMemoryStore_VerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	ok, _ := s.Verify(ctx, "D1:P1", code)
	require.True(t, ok)

	ok, err = s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.False(t, ok, "a consumed code must not verify again")
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_Supersession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	c1, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)
	c2, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	if c1 != c2 {
		ok, err := s.Verify(ctx, "D1:P1", c1)
		require.NoError(t, err)
		assert.False(t, ok, "superseded code must not verify")
	}

	ok, err := s.Verify(ctx, "D1:P1", c2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(Options{TTL: 5 * time.Minute})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)

	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "expired entry should be removed on lookup")
}

func TestMemoryStore_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(Options{TTL: time.Minute})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	clock.Advance(time.Minute - time.Nanosecond)
	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.True(t, ok, "code should still be valid just before expiry")

	code, err = s.Issue(ctx, "D1:P1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	ok, err = s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.False(t, ok, "code is expired at exactly issuedAt+TTL")
}

func TestMemoryStore_SubjectIsolation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	for _, other := range []string{"D1:P2", "D2:P1", "D2:P2"} {
		ok, err := s.Verify(ctx, other, code)
		require.NoError(t, err)
		assert.False(t, ok, "code for D1:P1 verified against %s", other)
	}

	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.True(t, ok, "verifying other subjects must not consume D1:P1")
}

func TestMemoryStore_WrongCodeKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ok, err := s.Verify(ctx, "D1:P1", wrongCode(code))
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.True(t, ok, "unbounded attempts should leave the challenge live")
}

func TestMemoryStore_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{MaxAttempts: 3})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := s.Verify(ctx, "D1:P1", wrongCode(code))
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.False(t, ok, "challenge should be dropped once attempts are spent")
}

func TestMemoryStore_ReissueResetsAttempts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{MaxAttempts: 2})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)
	ok, _ := s.Verify(ctx, "D1:P1", wrongCode(code))
	require.False(t, ok)

	code, err = s.Issue(ctx, "D1:P1")
	require.NoError(t, err)
	ok, _ = s.Verify(ctx, "D1:P1", wrongCode(code))
	require.False(t, ok)

	ok, err = s.Verify(ctx, "D1:P1", code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_NoChallenge(t *testing.T) {
	s, _ := newTestStore(Options{})
	ok, err := s.Verify(context.Background(), "D9:P9", "0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(Options{TTL: time.Minute})

	for i := 0; i < 10; i++ {
		_, err := s.Issue(ctx, fmt.Sprintf("D%d:P1", i))
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	live, err := s.Issue(ctx, "D99:P1")
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, removed)
	assert.Equal(t, 1, s.Len())

	ok, err := s.Verify(ctx, "D99:P1", live)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ConcurrentVerifySingleWinner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	code, err := s.Issue(ctx, "D1:P1")
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Verify(ctx, "D1:P1", code)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryStore_ConcurrentSubjects(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(Options{})

	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("D%d:P%d", i%7, i)
			code, err := s.Issue(ctx, key)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			ok, err := s.Verify(ctx, key, code)
			if err != nil || !ok {
				atomic.AddInt32(&failures, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, failures)
	assert.Equal(t, 0, s.Len())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	s := NewMemoryStore(Options{TTL: time.Millisecond})
	_, err := s.Issue(context.Background(), "D1:P1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, 5*time.Millisecond, nopLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
