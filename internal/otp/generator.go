package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// DefaultLength is the number of digits in a generated code.
const DefaultLength = 4

// Generator produces fixed-width numeric codes drawn uniformly from
// [0, 10^length), zero-padded to length digits.
type Generator struct {
	length int
	limit  *big.Int
	rand   io.Reader
}

// NewGenerator returns a Generator for codes of the given length. A length
// below one falls back to DefaultLength.
func NewGenerator(length int) *Generator {
	if length < 1 {
		length = DefaultLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	return &Generator{length: length, limit: limit, rand: rand.Reader}
}

// Length returns the number of digits per code.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a new code. rand.Int rejects out-of-range samples, so
// every code in the digit space is equally likely.
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.rand, g.limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	s := n.Text(10)
	if pad := g.length - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}

// HashCode returns the hex-encoded SHA-256 of a code. Stores keep only the
// hash so a dump of the store does not reveal live codes.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// codeMatches compares a candidate against a stored hash in constant time.
func codeMatches(candidate, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(candidate)), []byte(storedHash)) == 1
}
