package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/repository"
)

// BookingRequest содержит параметры нового бронирования. Цена указывается в сотых долях валюты.
type BookingRequest struct {
	HotelID       int64
	RoomType      string
	CheckIn       time.Time
	CheckOut      time.Time
	PricePerNight int64
}

// CreateBooking создаёт бронирование в статусе PENDING_PAYMENT.
// Количество ночей и итоговая сумма вычисляются из дат и цены за ночь.
func (s *Service) CreateBooking(ctx context.Context, userID string, req BookingRequest) (*model.Booking, error) {
	roomType := strings.ToUpper(strings.TrimSpace(req.RoomType))
	if roomType == "" {
		return nil, fmt.Errorf("%w: room type is required", model.ErrInvalidBooking)
	}
	if req.PricePerNight <= 0 {
		return nil, fmt.Errorf("%w: price per night must be positive", model.ErrInvalidBooking)
	}

	checkIn := truncateDay(req.CheckIn)
	checkOut := truncateDay(req.CheckOut)
	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	if nights <= 0 {
		return nil, fmt.Errorf("%w: check-out must be after check-in", model.ErrInvalidBooking)
	}

	b := &model.Booking{
		UserID:        userID,
		HotelID:       req.HotelID,
		RoomType:      roomType,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Nights:        nights,
		PricePerNight: req.PricePerNight,
		Total:         int64(nights) * req.PricePerNight,
		Status:        model.BookingStatusPendingPayment,
		CreatedAt:     s.now(),
	}

	err := s.store.CreateBooking(ctx, b)
	if errors.Is(err, model.ErrNotFound) && s.catalog != nil {
		if syncErr := s.syncHotel(ctx, req.HotelID); syncErr != nil {
			return nil, syncErr
		}
		err = s.store.CreateBooking(ctx, b)
	}
	if err != nil {
		return nil, err
	}

	return s.store.GetBooking(ctx, b.ID)
}

// syncHotel копирует запись отеля из внешнего каталога в хранилище.
func (s *Service) syncHotel(ctx context.Context, hotelID int64) error {
	hotel, err := s.catalog.GetHotel(ctx, hotelID)
	if err != nil {
		return fmt.Errorf("fetch hotel from catalog: %w", err)
	}

	if err := s.store.UpsertHotel(ctx, hotel); err != nil {
		return err
	}

	s.logger.Info("hotel synced from catalog", zap.Int64("hotelID", hotel.ID), zap.String("name", hotel.Name))
	return nil
}

// FindBooking возвращает бронирование или ошибку model.ErrNotFound.
func (s *Service) FindBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	return s.store.GetBooking(ctx, bookingID)
}

// GetBookingsByUser возвращает бронирования пользователя.
func (s *Service) GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	return s.store.GetBookingsByUser(ctx, userID)
}

// MarkPaid переводит бронирование в статус PAID в отдельной транзакции.
// Для уже оплаченного бронирования вызов ничего не меняет.
func (s *Service) MarkPaid(ctx context.Context, bookingID int64) (*model.Booking, error) {
	var booking *model.Booking
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		b, err := tx.MarkBookingPaid(ctx, bookingID)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// findOwnedBookingTx блокирует бронирование и проверяет, что оно принадлежит пользователю.
func findOwnedBookingTx(ctx context.Context, tx repository.Tx, bookingID int64, userID string) (*model.Booking, error) {
	booking, err := tx.GetBookingForUpdate(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, fmt.Errorf("%w: booking %d", model.ErrUnauthorized, bookingID)
	}
	return booking, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
