package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nika/server/internal/repo/memrepo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentSMS struct {
	phone string
	text  string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	fail bool
}

func (f *fakeSMS) Send(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("provider unavailable")
	}
	f.sent = append(f.sent, sentSMS{phone: phone, text: text})
	return nil
}

func (f *fakeSMS) last() sentSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testEnv struct {
	clock  *testClock
	sms    *fakeSMS
	users  *memrepo.Users
	codes  *memrepo.Codes
	limits *memrepo.Limits
	tokens *memrepo.Tokens

	codeStore *CodeStore
	limiter   *RateLimiter
	tokenSvc  *TokenService
	jwt       *JWTService
	svc       *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:  newTestClock(),
		sms:    &fakeSMS{},
		users:  memrepo.NewUsers(),
		codes:  memrepo.NewCodes(),
		limits: memrepo.NewLimits(),
		tokens: memrepo.NewTokens(),
	}

	env.codeStore = NewCodeStore(env.codes, NewCodeGenerator("test-otp-secret"), "test-salt")
	env.codeStore.now = env.clock.Now
	env.limiter = NewRateLimiter(env.limits)
	env.limiter.now = env.clock.Now
	env.jwt = NewJWTService("test-jwt-secret")
	env.jwt.now = env.clock.Now
	env.tokenSvc = NewTokenService(env.jwt, env.tokens, 0, 0)
	env.tokenSvc.now = env.clock.Now
	env.svc = NewAuthService(env.codeStore, env.limiter, env.tokenSvc, env.users, env.sms, zap.NewNop())
	env.svc.now = env.clock.Now
	return env
}
