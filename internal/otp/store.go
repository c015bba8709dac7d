// Package otp holds short-lived one-time passcodes keyed by a subject. At most
// one live code exists per subject: issuing again supersedes the previous
// code, a successful verification consumes it, and an expired code never
// verifies.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStoreUnavailable is returned when a networked backend cannot be reached.
// It is never returned for a wrong, missing, or expired code.
var ErrStoreUnavailable = errors.New("otp store unavailable")

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Store issues and verifies one-time passcodes.
type Store interface {
	// Issue generates a new code for subjectKey, replacing any live code,
	// and returns it so the caller can dispatch it.
	Issue(ctx context.Context, subjectKey string) (string, error)
	// Verify reports whether candidate matches the live code for
	// subjectKey. A match deletes the code so it verifies at most once.
	Verify(ctx context.Context, subjectKey, candidate string) (bool, error)
}

// Sweeper removes expired entries in bulk.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Options configures a Store.
type Options struct {
	// Length is the number of digits per code.
	Length int
	// TTL is the validity window of an issued code.
	TTL time.Duration
	// MaxAttempts bounds wrong guesses per issued code. Zero means no bound.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Length < 1 {
		o.Length = DefaultLength
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	return o
}

// RunSweeper calls s.Sweep every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("otp sweep failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int("removed", n).Msg("otp sweep")
			}
		}
	}
}
