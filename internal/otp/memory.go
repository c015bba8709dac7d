package otp

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type challenge struct {
	codeHash  string
	issuedAt  time.Time
	expiresAt time.Time
	attempts  int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*challenge
}

// MemoryStore is an in-process Store. Subjects are spread over independently
// locked shards, so operations on different subjects rarely contend while
// operations on the same subject are serialized.
type MemoryStore struct {
	shards      [shardCount]*shard
	gen         *Generator
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	s := &MemoryStore{
		gen:         NewGenerator(opts.Length),
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*challenge)}
	}
	return s
}

func (s *MemoryStore) shardFor(subjectKey string) *shard {
	return s.shards[xxhash.Sum64String(subjectKey)%shardCount]
}

// Issue generates and stores a new code for subjectKey, superseding any
// previous one.
func (s *MemoryStore) Issue(_ context.Context, subjectKey string) (string, error) {
	code, err := s.gen.Generate()
	if err != nil {
		return "", err
	}
	now := s.now()

	sh := s.shardFor(subjectKey)
	sh.mu.Lock()
	sh.entries[subjectKey] = &challenge{
		codeHash:  HashCode(code),
		issuedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	sh.mu.Unlock()

	return code, nil
}

// Verify consumes the live code for subjectKey if candidate matches it.
func (s *MemoryStore) Verify(_ context.Context, subjectKey, candidate string) (bool, error) {
	sh := s.shardFor(subjectKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.entries[subjectKey]
	if !ok {
		return false, nil
	}
	if !s.now().Before(c.expiresAt) {
		delete(sh.entries, subjectKey)
		return false, nil
	}
	if !codeMatches(candidate, c.codeHash) {
		c.attempts++
		if s.maxAttempts > 0 && c.attempts >= s.maxAttempts {
			delete(sh.entries, subjectKey)
		}
		return false, nil
	}

	delete(sh.entries, subjectKey)
	return true, nil
}

// Sweep removes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.entries {
			if !now.Before(c.expiresAt) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
