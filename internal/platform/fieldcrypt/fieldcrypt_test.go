package fieldcrypt

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewFromKey(generateTestKey(t))
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	t.Run("empty key disables", func(t *testing.T) {
		c, err := New("", zerolog.Nop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Enabled() {
			t.Error("expected encryption to be disabled")
		}
	})

	t.Run("valid hex key", func(t *testing.T) {
		c, err := New(hex.EncodeToString(generateTestKey(t)), zerolog.Nop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !c.Enabled() {
			t.Error("expected encryption to be enabled")
		}
	})

	t.Run("invalid hex", func(t *testing.T) {
		if _, err := New("zz", zerolog.Nop()); err == nil {
			t.Fatal("expected error for invalid hex")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, err := New(hex.EncodeToString(make([]byte, 16)), zerolog.Nop()); err == nil {
			t.Fatal("expected error for 16-byte key")
		}
	})
}

func TestEncryptDecrypt(t *testing.T) {
	c := newTestCipher(t)

	cases := []string{
		"",
		"Follow-up visit",
		"BP 140/90, started lisinopril 10mg daily. Review in 2 weeks.",
		"\x00\x01\x02binary\xff",
	}
	for _, plaintext := range cases {
		ciphertext, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if !strings.HasPrefix(ciphertext, prefix) {
			t.Errorf("expected ciphertext to carry prefix, got %q", ciphertext)
		}
		decrypted, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip failed: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptProducesDifferentCiphertexts(t *testing.T) {
	c := newTestCipher(t)
	ct1, _ := c.Encrypt("same input")
	ct2, _ := c.Encrypt("same input")
	if ct1 == ct2 {
		t.Error("expected unique nonces to give different ciphertexts")
	}
}

func TestDecrypt_Plaintext(t *testing.T) {
	c := newTestCipher(t)
	got, err := c.Decrypt("legacy plaintext row")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "legacy plaintext row" {
		t.Errorf("expected value unchanged, got %q", got)
	}
}

func TestDecrypt_Invalid(t *testing.T) {
	c := newTestCipher(t)

	if _, err := c.Decrypt(prefix + "not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := c.Decrypt(prefix + "AQID"); err == nil {
		t.Error("expected error for short ciphertext")
	}

	ct, _ := c.Encrypt("secret")
	if _, err := newTestCipher(t).Decrypt(ct); err == nil {
		t.Error("expected error when decrypting with wrong key")
	}

	disabled, _ := New("", zerolog.Nop())
	if _, err := disabled.Decrypt(ct); err == nil {
		t.Error("expected error decrypting ciphertext without a key")
	}
}

func TestDisabledPassthrough(t *testing.T) {
	c, _ := New("", zerolog.Nop())
	got, err := c.Encrypt("hello")
	if err != nil || got != "hello" {
		t.Errorf("expected passthrough, got %q, %v", got, err)
	}
}

func TestEncryptAllDecryptAll(t *testing.T) {
	c := newTestCipher(t)
	a, b := "summary", "details"
	if err := c.EncryptAll(&a, &b); err != nil {
		t.Fatalf("encrypt all: %v", err)
	}
	if a == "summary" || b == "details" {
		t.Fatal("expected values to be encrypted in place")
	}
	if err := c.DecryptAll(&a, &b); err != nil {
		t.Fatalf("decrypt all: %v", err)
	}
	if a != "summary" || b != "details" {
		t.Errorf("unexpected roundtrip: %q %q", a, b)
	}
}
