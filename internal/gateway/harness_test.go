package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/broker"
	"github.com/nika/server/internal/chat"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
	"github.com/nika/server/internal/repo/memrepo"
	"github.com/nika/server/internal/session"
)

type codeInbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *codeInbox) Send(_ context.Context, phone, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[phone] = text
	return nil
}

func (c *codeInbox) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, turns []chat.Turn) (string, error) {
	return "echo: " + turns[len(turns)-1].Content, nil
}

type testClient struct {
	id     string
	mu     sync.Mutex
	frames []Reply
}

func newTestClient() *testClient {
	return &testClient{id: uuid.NewString()}
}

func (c *testClient) ID() string { return c.id }

func (c *testClient) Deliver(payload []byte) bool {
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, r)
	return true
}

func (c *testClient) pushed(event string) []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Reply
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// failingAppends fails the first failures appends to the wrapped log.
type failingAppends struct {
	repo.MessageRepo
	mu       sync.Mutex
	failures int
}

func (f *failingAppends) Append(ctx context.Context, msgs ...model.Message) ([]model.Message, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return f.MessageRepo.Append(ctx, msgs...)
}

type harness struct {
	t        *testing.T
	sms      *codeInbox
	users    *memrepo.Users
	codes    *memrepo.Codes
	limits   *memrepo.Limits
	tokens   *memrepo.Tokens
	messages *memrepo.Messages
	sessions *session.Registry
	rooms    *session.Rooms
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets wrap replace the message store the chat service writes to.
func newHarnessWith(t *testing.T, wrap func(repo.MessageRepo) repo.MessageRepo) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		sms:      &codeInbox{codes: map[string]string{}},
		users:    memrepo.NewUsers(),
		codes:    memrepo.NewCodes(),
		limits:   memrepo.NewLimits(),
		tokens:   memrepo.NewTokens(),
		messages: memrepo.NewMessages(),
		sessions: session.NewRegistry(),
		rooms:    session.NewRooms(),
	}

	codeStore := auth.NewCodeStore(h.codes, auth.NewCodeGenerator("test-otp-secret"), "test-salt")
	limiter := auth.NewRateLimiter(h.limits)
	tokens := auth.NewTokenService(auth.NewJWTService("test-jwt-secret"), h.tokens, 0, 0)
	authSvc := auth.NewAuthService(codeStore, limiter, tokens, h.users, h.sms, zap.NewNop())
	var messages repo.MessageRepo = h.messages
	if wrap != nil {
		messages = wrap(messages)
	}
	chatSvc := chat.NewService(messages, echoCompleter{}, "Nika", zap.NewNop())

	h.orch = NewOrchestrator(authSvc, chatSvc, h.sessions, h.rooms, broker.NewLocal(h.rooms), zap.NewNop())
	return h
}

func (h *harness) connect(token string) *testClient {
	h.t.Helper()
	c := newTestClient()
	_, err := h.orch.Connect(context.Background(), c, token)
	require.NoError(h.t, err)
	return c
}

func (h *harness) request(c *testClient, event string, data any) Reply {
	h.t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(h.t, err)
		raw = b
	}
	return h.orch.Handle(context.Background(), c, Request{ID: "req-1", Event: event, Data: raw})
}

// login runs the OTP flow for phone on c and returns the confirm reply.
func (h *harness) login(c *testClient, phone string) Reply {
	h.t.Helper()
	reply := h.request(c, EventAuth, map[string]string{"phone": phone})
	require.Equal(h.t, 200, reply.Status, "auth: %+v", reply.Data)
	return h.request(c, EventAuthConfirm, map[string]string{"code": h.sms.code(phone)})
}

func (h *harness) session(c *testClient) session.Session {
	h.t.Helper()
	s, ok := h.sessions.Get(c.ID())
	require.True(h.t, ok)
	return s
}
