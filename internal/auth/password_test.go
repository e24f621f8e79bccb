package auth

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type countingMetrics struct {
	hashes atomic.Int32
}

func (m *countingMetrics) RecordLogin(string, string) {}
func (m *countingMetrics) RecordRegistration() {}
func (m *countingMetrics) RecordSessionRegenerated() {}
func (m *countingMetrics) RecordAuthzDenied(string) {}
func (m *countingMetrics) RecordSessionsSwept(int64) {}
func (m *countingMetrics) RecordPasswordHash(time.Duration) { m.hashes.Add(1) }

func TestNewBcryptHasher_ClampsCost(t *testing.T) {
	tests := []struct {
		name string
		cost int
		want int
	}{
		{"下限未満は切り上げ", 4, MinBcryptCost},
		{"既定値", DefaultBcryptCost, DefaultBcryptCost},
		{"上限超過は切り下げ", 99, bcrypt.MaxCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewBcryptHasher(tt.cost, 1, nil).Cost(); got != tt.want {
				t.Errorf("Cost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	mc := &countingMetrics{}
	h := NewBcryptHasher(MinBcryptCost, 2, mc)
	ctx := context.Background()

	digest, err := h.Hash(ctx, "correct-horse-1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(digest, "$2a$10$") {
		t.Errorf("digest = %q, want bcrypt cost 10", digest)
	}
	if digest == "correct-horse-1" {
		t.Fatal("digest must not equal plaintext")
	}

	if !h.Verify(ctx, "correct-horse-1", digest) {
		t.Error("Verify() should accept the correct password")
	}
	if h.Verify(ctx, "wrong", digest) {
		t.Error("Verify() should reject a wrong password")
	}
	if got := mc.hashes.Load(); got != 3 {
		t.Errorf("RecordPasswordHash called %d times, want 3", got)
	}
}

func TestBcryptHasher_HashIsSalted(t *testing.T) {
	h := NewBcryptHasher(MinBcryptCost, 2, nil)
	ctx := context.Background()

	a, _ := h.Hash(ctx, "same-password")
	b, _ := h.Hash(ctx, "same-password")
	if a == b {
		t.Error("two hashes of the same password should differ")
	}
}

func TestBcryptHasher_Hash_RejectsInvalidInput(t *testing.T) {
	h := NewBcryptHasher(MinBcryptCost, 1, nil)

	if _, err := h.Hash(context.Background(), ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := h.Hash(context.Background(), strings.Repeat("a", MaxPasswordBytes+1)); !errors.Is(err, bcrypt.ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestBcryptHasher_Verify_EmptyOrMalformedDigest(t *testing.T) {
	h := NewBcryptHasher(MinBcryptCost, 1, nil)

	if h.Verify(context.Background(), "x", "") {
		t.Error("empty digest must not verify")
	}
	if h.Verify(context.Background(), "x", "not-a-bcrypt-digest") {
		t.Error("malformed digest must not verify")
	}
}

func TestBcryptHasher_CancelledContext(t *testing.T) {
	h := NewBcryptHasher(MinBcryptCost, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Hash(ctx, "password"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if h.Verify(ctx, "password", "$2a$10$abcdefghijklmnopqrstuuJ7xk0H6Gq2o6N5n4hPpaU7w5l3E3x2e") {
		t.Error("Verify() should be false when cancelled")
	}
}
