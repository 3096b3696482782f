// Package service реализует бизнес-логику сервиса бронирования отелей:
// бонусный счёт, оплату бронирований и начисление баллов за отзывы.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/repository"
)

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Close() error
	WithinTx(ctx context.Context, fn repository.TxFunc) error
	UpsertHotel(ctx context.Context, h *model.Hotel) error
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error)
	GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error)
	GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error)
	GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error)
}

// HotelCatalog описывает внешний каталог отелей.
type HotelCatalog interface {
	GetHotel(ctx context.Context, id int64) (*model.Hotel, error)
}

// Service содержит бизнес-логику сервиса бронирования.
type Service struct {
	store   Store
	catalog HotelCatalog
	ledger  *Ledger
	logger  *zap.Logger
	now     func() time.Time
}

// NewService создаёт новый сервис поверх указанного хранилища.
// catalog может быть nil: тогда бронировать можно только отели, уже известные хранилищу.
func NewService(store Store, catalog HotelCatalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		store:   store,
		catalog: catalog,
		ledger:  NewLedger(store, now),
		logger:  logger,
		now:     now,
	}
}

// Ledger возвращает бонусный счёт, которым пользуется сервис.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
