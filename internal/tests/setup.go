// Package tests runs the server end to end: over in-memory stores always,
// and against PostgreSQL when DATABASE_URL is set.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/broker"
	"github.com/nika/server/internal/chat"
	"github.com/nika/server/internal/db"
	"github.com/nika/server/internal/gateway"
	httphandler "github.com/nika/server/internal/http"
	"github.com/nika/server/internal/http/handlers"
	"github.com/nika/server/internal/payments"
	"github.com/nika/server/internal/repo"
	"github.com/nika/server/internal/repo/memrepo"
	"github.com/nika/server/internal/session"
)

// Test secrets shared by every stack.
const (
	JWTSecret       = "test-jwt-secret-at-least-32-characters-long"
	OTPSecret       = "test-otp-secret"
	OTPSalt         = "test-otp-salt"
	PaymentPassword = "test-payment-password"
)

// Stores is the persistence a stack runs on
type Stores struct {
	Users    repo.UserRepo
	Codes    repo.OtpRepo
	Limits   repo.LimitRepo
	Tokens   repo.TokenRepo
	Messages repo.MessageRepo
	Orders   repo.OrderRepo
}

// MemoryStores returns fresh in-memory stores
func MemoryStores() Stores {
	users := memrepo.NewUsers()
	return Stores{
		Users:    users,
		Codes:    memrepo.NewCodes(),
		Limits:   memrepo.NewLimits(),
		Tokens:   memrepo.NewTokens(),
		Messages: memrepo.NewMessages(),
		Orders:   memrepo.NewOrders(users),
	}
}

// PostgresStores returns the PostgreSQL stores backed by database
func PostgresStores(database *sql.DB) Stores {
	return Stores{
		Users:    repo.NewUserRepo(database),
		Codes:    repo.NewOtpRepo(database),
		Limits:   repo.NewLimitRepo(database),
		Tokens:   repo.NewTokenRepo(database),
		Messages: repo.NewMessageRepo(database),
		Orders:   repo.NewOrderRepo(database),
	}
}

// Stack is a fully wired server
type Stack struct {
	Handler  http.Handler
	Auth     *auth.AuthService
	Sessions *session.Registry
	Rooms    *session.Rooms
	Reaper   *auth.Reaper
}

// NewStack wires the server the way cmd/api does, with the SMS gateway and
// the completion backend replaced. ctx bounds its connections.
func NewStack(ctx context.Context, st Stores, sms auth.SMSSender, completer chat.Completer, logger *zap.Logger) *Stack {
	codes := auth.NewCodeStore(st.Codes, auth.NewCodeGenerator(OTPSecret), OTPSalt)
	limits := auth.NewRateLimiter(st.Limits)
	tokens := auth.NewTokenService(auth.NewJWTService(JWTSecret), st.Tokens, 0, 0)
	authService := auth.NewAuthService(codes, limits, tokens, st.Users, sms, logger)
	chatService := chat.NewService(st.Messages, completer, "Nika", logger)
	paymentService := payments.NewService(st.Orders, PaymentPassword, logger)

	sessions := session.NewRegistry()
	rooms := session.NewRooms()
	orch := gateway.NewOrchestrator(authService, chatService, sessions, rooms, broker.NewLocal(rooms), logger)

	router := httphandler.NewRouter(ctx, httphandler.Handlers{
		Health:   handlers.NewHealthHandler(map[string]handlers.Check{}, logger),
		Auth:     handlers.NewAuthHandler(authService, logger),
		Payments: handlers.NewPaymentsHandler(paymentService, logger),
		WS:       handlers.NewWSHandler(ctx, orch, nil, logger),
	}, authService, logger)

	return &Stack{
		Handler:  router,
		Auth:     authService,
		Sessions: sessions,
		Rooms:    rooms,
		Reaper:   auth.NewReaper(codes, limits, 0, logger),
	}
}

// RunMigrations applies the embedded migrations.
func RunMigrations(database *sql.DB) error {
	return db.Migrate(database, zap.NewNop())
}

// TruncateTables empties every table except the seeded tariffs.
func TruncateTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx,
		"TRUNCATE TABLE orders, messages, token_pairs, resend_limits, otp_codes, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
