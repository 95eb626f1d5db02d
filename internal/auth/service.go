package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

const (
	defaultTariff       = "free"
	defaultTariffPeriod = 24 * time.Hour
	promocodeLength     = 10
	maxCreateAttempts   = 5
)

// CodeInfo is what the client learns about an issued code
type CodeInfo struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expire"`
	CanSendAt time.Time `json:"can_send"`
	// Remaining is the resend quota left after a resend; nil on initial sends.
	Remaining *int `json:"remaining,omitempty"`
}

// LoginResult is returned after a successful code confirmation
type LoginResult struct {
	User   model.User
	Tokens model.TokenPair
	// Created is true only for the call that created the account.
	Created bool
}

// AuthService orchestrates authentication operations
type AuthService struct {
	codes    *CodeStore
	limits   *RateLimiter
	tokens   *TokenService
	userRepo repo.UserRepo
	sms      SMSSender
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	codes *CodeStore,
	limits *RateLimiter,
	tokens *TokenService,
	userRepo repo.UserRepo,
	sms SMSSender,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		codes:    codes,
		limits:   limits,
		tokens:   tokens,
		userRepo: userRepo,
		sms:      sms,
		logger:   logger,
		now:      time.Now,
	}
}

// SendCode issues a code for the phone, opens its resend quota window and
// delivers the code by SMS. A phone still inside its cooldown is rejected.
func (s *AuthService) SendCode(ctx context.Context, rawPhone string) (CodeInfo, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return CodeInfo{}, err
	}

	ok, err := s.codes.CanResend(ctx, phone)
	if err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}
	if !ok {
		return CodeInfo{}, apperr.Conflict("code already sent, wait before requesting another")
	}

	code, err := s.codes.Issue(ctx, phone)
	if err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}
	if _, err := s.limits.RegisterSend(ctx, phone); err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}
	if err := s.deliver(ctx, code); err != nil {
		return CodeInfo{}, err
	}

	s.logger.Info("otp_sent", zap.String("phone", MaskPhone(phone)))
	return codeInfo(code), nil
}

// ResendCode sends a fresh code to a phone that already received one. It
// requires the cooldown to have passed and spends one unit of resend quota.
func (s *AuthService) ResendCode(ctx context.Context, phone string) (CodeInfo, error) {
	ok, err := s.codes.CanResend(ctx, phone)
	if err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}
	if !ok {
		return CodeInfo{}, apperr.Conflict("resend is not available yet")
	}

	remaining, err := s.limits.ConsumeResend(ctx, phone)
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return CodeInfo{}, apperr.Exhausted(exhausted.ResetAt)
	}
	if err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}

	code, err := s.codes.Issue(ctx, phone)
	if err != nil {
		return CodeInfo{}, apperr.InternalError(err)
	}
	if err := s.deliver(ctx, code); err != nil {
		return CodeInfo{}, err
	}

	s.logger.Info("otp_resent", zap.String("phone", MaskPhone(phone)), zap.Int("remaining", remaining))
	info := codeInfo(code)
	info.Remaining = &remaining
	return info, nil
}

func (s *AuthService) deliver(ctx context.Context, code model.OtpCode) error {
	if err := s.sms.Send(ctx, code.Phone, code.Code); err != nil {
		if derr := s.codes.Discard(ctx, code); derr != nil {
			s.logger.Warn("otp_discard_failed", zap.String("phone", MaskPhone(code.Phone)), zap.Error(derr))
		}
		s.logger.Error("sms_send_failed", zap.String("phone", MaskPhone(code.Phone)), zap.Error(err))
		return apperr.UpstreamError("failed to send the code", err)
	}
	return nil
}

// Login consumes the code, finds or creates the user of the verified phone
// and returns the user's token pair.
func (s *AuthService) Login(ctx context.Context, value string) (LoginResult, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return LoginResult{}, apperr.ValidationError("code is required")
	}

	code, err := s.codes.Verify(ctx, value)
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return LoginResult{}, apperr.New(apperr.NotFound, "invalid code")
	case errors.Is(err, ErrCodeExpired):
		return LoginResult{}, apperr.New(apperr.NotFound, "code expired")
	case err != nil:
		return LoginResult{}, apperr.InternalError(err)
	}

	user, created, err := s.findOrCreateUser(ctx, code.Phone)
	if err != nil {
		return LoginResult{}, apperr.InternalError(err)
	}
	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return LoginResult{}, apperr.InternalError(err)
	}

	s.logger.Info("login",
		zap.String("user_id", user.ID.String()),
		zap.String("phone", MaskPhone(user.Phone)),
		zap.Bool("created", created),
	)
	return LoginResult{User: user, Tokens: pair, Created: created}, nil
}

func (s *AuthService) findOrCreateUser(ctx context.Context, phone string) (model.User, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		user, created, err := s.userRepo.CreateIfAbsent(ctx, model.User{
			Phone:        phone,
			Tariff:       defaultTariff,
			TariffExpire: s.now().Add(defaultTariffPeriod),
			Promocode:    newPromocode(),
		})
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return model.User{}, false, fmt.Errorf("create user: %w", err)
		}
		return user, created, nil
	}
	return model.User{}, false, fmt.Errorf("create user: no unique promocode after %d attempts", maxCreateAttempts)
}

// Authenticate resolves an access token to its user and pair.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (model.User, model.TokenPair, error) {
	pair, err := s.tokens.Validate(ctx, accessToken, false)
	if errors.Is(err, ErrInvalidToken) {
		return model.User{}, model.TokenPair{}, apperr.Unauthenticated("invalid or expired token")
	}
	if err != nil {
		return model.User{}, model.TokenPair{}, apperr.InternalError(err)
	}
	user, err := s.userRepo.GetByID(ctx, pair.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, model.TokenPair{}, apperr.Unauthenticated("invalid or expired token")
	}
	if err != nil {
		return model.User{}, model.TokenPair{}, apperr.InternalError(err)
	}
	return user, pair, nil
}

// Refresh rotates the pair holding refreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return model.TokenPair{}, apperr.ValidationError("refresh_token is required")
	}
	pair, ok, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		return model.TokenPair{}, apperr.InternalError(err)
	}
	if !ok {
		return model.TokenPair{}, apperr.Unauthenticated("invalid or expired refresh token")
	}
	return pair, nil
}

// SetName stores the display name. first reports whether the user had no
// name before, i.e. this call completed onboarding.
func (s *AuthService) SetName(ctx context.Context, userID uuid.UUID, name string) (user model.User, first bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, false, apperr.ValidationError("name is required")
	}
	current, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, false, apperr.NotFoundError("user")
	}
	if err != nil {
		return model.User{}, false, apperr.InternalError(err)
	}
	updated, err := s.userRepo.SetName(ctx, userID, name)
	if err != nil {
		return model.User{}, false, apperr.InternalError(err)
	}
	return updated, !current.HasName(), nil
}

// ClaimGreeting marks the user greeted. Only the caller that gets true
// stores the greeting; it hands the claim back with ReleaseGreeting when
// that fails, so a later login retries.
func (s *AuthService) ClaimGreeting(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.userRepo.SetGreeted(ctx, userID, false, true)
	if err != nil {
		return false, apperr.InternalError(err)
	}
	return ok, nil
}

// ReleaseGreeting undoes a ClaimGreeting whose greeting was not stored.
func (s *AuthService) ReleaseGreeting(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.userRepo.SetGreeted(ctx, userID, true, false); err != nil {
		return apperr.InternalError(err)
	}
	return nil
}

// User loads a user by id.
func (s *AuthService) User(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, apperr.NotFoundError("user")
	}
	if err != nil {
		return model.User{}, apperr.InternalError(err)
	}
	return user, nil
}

func codeInfo(code model.OtpCode) CodeInfo {
	return CodeInfo{
		Phone:     code.Phone,
		ExpiresAt: code.ExpiresAt,
		CanSendAt: code.CanSendAt,
	}
}

func newPromocode() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, promocodeLength)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}
