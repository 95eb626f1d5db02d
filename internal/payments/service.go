package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/repo"
)

// Provider statuses acted upon
const (
	StatusConfirmed = "CONFIRMED"
	StatusRejected  = "REJECTED"
)

// Service settles orders from provider notifications
type Service struct {
	orders   repo.OrderRepo
	password string
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a payment service verifying tokens with password
func NewService(orders repo.OrderRepo, password string, logger *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		password: password,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify verifies a notification and applies it to its order. Forged or
// unknown notifications come back as Invalid or NotFound errors; callers
// acknowledge them to the provider all the same.
func (s *Service) Notify(ctx context.Context, params map[string]any) error {
	got, _ := params["Token"].(string)
	want := Token(params, s.password)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return apperr.InvalidError("token mismatch")
	}

	rawID, _ := params["OrderId"].(string)
	orderID, err := uuid.Parse(rawID)
	if err != nil {
		return apperr.InvalidError("invalid order id")
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFoundError("order")
	}
	if err != nil {
		return apperr.InternalError(err)
	}

	status, _ := params["Status"].(string)
	switch status {
	case StatusConfirmed:
		return s.confirm(ctx, order)
	case StatusRejected:
		if _, err := s.orders.Transition(ctx, order.ID, model.OrderNew, model.OrderRejected); err != nil {
			return apperr.InternalError(err)
		}
		s.logger.Info("order_rejected", zap.String("order_id", order.ID.String()))
		return nil
	default:
		s.logger.Debug("order_status_ignored", zap.String("order_id", order.ID.String()), zap.String("status", status))
		return nil
	}
}

// confirm settles the order once. The status change and the tariff extension
// commit together, so a failed attempt leaves the order new for the
// provider's retry.
func (s *Service) confirm(ctx context.Context, order model.Order) error {
	tariff, err := s.orders.GetTariff(ctx, order.Tariff)
	if err != nil {
		return apperr.InternalError(fmt.Errorf("load tariff: %w", err))
	}

	expire, ok, err := s.orders.Settle(ctx, order.ID, tariff, s.now())
	if err != nil {
		return apperr.InternalError(fmt.Errorf("settle order: %w", err))
	}
	if !ok {
		s.logger.Debug("order_already_settled", zap.String("order_id", order.ID.String()))
		return nil
	}

	s.logger.Info("order_paid",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("tariff", tariff.Name),
		zap.Time("tariff_expire", expire),
	)
	return nil
}
