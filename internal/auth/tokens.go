package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

const (
	defaultAccessTTL  = 48 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned when a token fails signature, expiry or store checks
var ErrInvalidToken = errors.New("invalid token")

// TokenService issues, validates and rotates persisted token pairs.
type TokenService struct {
	jwt        *JWTService
	repo       repo.TokenRepo
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service; zero TTLs fall back to 48h and 30 days
func NewTokenService(jwtService *JWTService, tokenRepo repo.TokenRepo, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &TokenService{
		jwt:        jwtService,
		repo:       tokenRepo,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue returns the user's live pair, minting one when there is none or the
// stored access token has expired.
func (s *TokenService) Issue(ctx context.Context, user model.User) (model.TokenPair, error) {
	existing, err := s.repo.FindByUser(ctx, user.ID)
	switch {
	case err == nil && existing.AccessExpire.After(s.now()):
		return existing, nil
	case err == nil:
		if err := s.repo.DeleteByUser(ctx, user.ID); err != nil {
			return model.TokenPair{}, err
		}
	case !errors.Is(err, repo.ErrNotFound):
		return model.TokenPair{}, fmt.Errorf("lookup token pair: %w", err)
	}

	pair, err := s.mint(user)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.repo.Create(ctx, pair); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// A concurrent login for the same user stored its pair first.
			return s.repo.FindByUser(ctx, user.ID)
		}
		return model.TokenPair{}, fmt.Errorf("store token pair: %w", err)
	}
	return pair, nil
}

// Validate checks the signature and expiry first, without touching the store,
// then requires the token to be present in a persisted pair.
func (s *TokenService) Validate(ctx context.Context, token string, isRefresh bool) (model.TokenPair, error) {
	if token == "" {
		return model.TokenPair{}, ErrInvalidToken
	}
	if _, err := s.jwt.VerifyToken(token); err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var (
		pair model.TokenPair
		err  error
	)
	if isRefresh {
		pair, err = s.repo.FindByRefresh(ctx, token)
	} else {
		pair, err = s.repo.FindByAccess(ctx, token)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return model.TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("lookup token pair: %w", err)
	}
	return pair, nil
}

// Rotate replaces the pair holding refreshToken with a freshly minted one.
// ok is false, with nothing changed, when the refresh token is not valid.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (model.TokenPair, bool, error) {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil {
		return model.TokenPair{}, false, nil
	}
	current, err := s.Validate(ctx, refreshToken, true)
	if errors.Is(err, ErrInvalidToken) {
		return model.TokenPair{}, false, nil
	}
	if err != nil {
		return model.TokenPair{}, false, err
	}

	next, err := s.mint(model.User{ID: current.UserID, Phone: claims.Phone})
	if err != nil {
		return model.TokenPair{}, false, err
	}
	if err := s.repo.Rotate(ctx, refreshToken, next); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Rotated concurrently by another request.
			return model.TokenPair{}, false, nil
		}
		return model.TokenPair{}, false, fmt.Errorf("rotate token pair: %w", err)
	}
	return next, true, nil
}

func (s *TokenService) mint(user model.User) (model.TokenPair, error) {
	now := s.now()
	// JWT expiry has second precision; persist the same instant the token carries.
	accessExpire := now.Add(s.accessTTL).Truncate(time.Second)
	refreshExpire := now.Add(s.refreshTTL).Truncate(time.Second)

	access, err := s.jwt.Sign(user.Phone, accessExpire)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, err := s.jwt.Sign(user.Phone, refreshExpire)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		UserID:        user.ID,
		AccessToken:   access,
		AccessExpire:  accessExpire,
		RefreshToken:  refresh,
		RefreshExpire: refreshExpire,
	}, nil
}
