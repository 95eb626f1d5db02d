package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

const (
	codeTTL          = 10 * time.Minute
	resendCooldown   = 3 * time.Minute
	maxIssueAttempts = 5
)

var (
	// ErrCodeNotFound is returned for an unknown or already consumed code
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeExpired is returned for a code consumed after its expiry
	ErrCodeExpired = errors.New("code expired")
)

// CodeStore keeps one outstanding code per phone. Codes are looked up by
// value, so only their salted digest is persisted.
type CodeStore struct {
	repo repo.OtpRepo
	gen  *CodeGenerator
	salt string
	now  func() time.Time
}

// NewCodeStore creates a code store
func NewCodeStore(otpRepo repo.OtpRepo, gen *CodeGenerator, salt string) *CodeStore {
	return &CodeStore{
		repo: otpRepo,
		gen:  gen,
		salt: salt,
		now:  time.Now,
	}
}

// Issue generates a code for the phone and replaces any previous one. The
// returned OtpCode carries the plaintext code for delivery.
func (s *CodeStore) Issue(ctx context.Context, phone string) (model.OtpCode, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := s.gen.Next()
		if err != nil {
			return model.OtpCode{}, err
		}
		now := s.now()
		code, err := s.repo.Replace(ctx, phone, hashCode(value, s.salt), now.Add(codeTTL), now.Add(resendCooldown))
		if errors.Is(err, repo.ErrConflict) {
			// Another phone holds the same value right now; draw again.
			continue
		}
		if err != nil {
			return model.OtpCode{}, fmt.Errorf("store code: %w", err)
		}
		code.Code = value
		return code, nil
	}
	return model.OtpCode{}, fmt.Errorf("store code: no unique value after %d attempts", maxIssueAttempts)
}

// Verify consumes the code. The record is deleted whether or not it has
// expired, so a value can only ever be verified once.
func (s *CodeStore) Verify(ctx context.Context, value string) (model.OtpCode, error) {
	code, err := s.repo.Take(ctx, hashCode(value, s.salt))
	if errors.Is(err, repo.ErrNotFound) {
		return model.OtpCode{}, ErrCodeNotFound
	}
	if err != nil {
		return model.OtpCode{}, fmt.Errorf("take code: %w", err)
	}
	if code.Expired(s.now()) {
		return model.OtpCode{}, ErrCodeExpired
	}
	code.Code = value
	return code, nil
}

// CanResend reports whether the phone has no code or its cooldown has passed.
func (s *CodeStore) CanResend(ctx context.Context, phone string) (bool, error) {
	code, err := s.repo.GetByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup code: %w", err)
	}
	return !code.CanSendAt.After(s.now()), nil
}

// Discard deletes an issued code that was never delivered.
func (s *CodeStore) Discard(ctx context.Context, code model.OtpCode) error {
	return s.repo.DeleteByHash(ctx, hashCode(code.Code, s.salt))
}

// Sweep deletes every expired code.
func (s *CodeStore) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// hashCode returns SHA-256(code:salt) as hex for DB storage
func hashCode(code, salt string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", code, salt)))
	return hex.EncodeToString(hash[:])
}
