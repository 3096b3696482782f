package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

// GetLoyalty возвращает бонусный счёт пользователя вместе с журналом операций.
func (s *Service) GetLoyalty(ctx context.Context, userID string) (*model.LoyaltySummary, error) {
	return s.ledger.Summary(ctx, userID)
}

// GetLoyaltyHistory возвращает журнал бонусных операций пользователя.
func (s *Service) GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error) {
	return s.ledger.History(ctx, userID)
}

// RedeemPoints списывает баллы по запросу пользователя.
func (s *Service) RedeemPoints(ctx context.Context, userID string, points int64) (*model.LoyaltyAccount, error) {
	account, err := s.ledger.Redeem(ctx, userID, points, "Points redemption")
	if err != nil {
		return nil, err
	}

	s.logger.Info("points redeemed",
		zap.String("userID", userID),
		zap.Int64("points", points),
		zap.Int64("available", account.Available),
	)
	return account, nil
}
