package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/repository"
	"github.com/mmeshcher/hotelbooking/internal/validation"
)

const (
	// PaymentAwardPoints начисляется за каждую оплату.
	PaymentAwardPoints int64 = 50
	// MinorUnitsPerPoint задаёт курс: один балл равен одной денежной единице.
	MinorUnitsPerPoint int64 = 100
	// MaxPointsPerPayment ограничивает списание так, чтобы его стоимость помещалась в int64.
	MaxPointsPerPayment = math.MaxInt64 / MinorUnitsPerPoint
)

// PaymentRequest содержит параметры оплаты. Amount указывается в сотых долях валюты.
type PaymentRequest struct {
	BookingID         int64
	Amount            int64
	Method            string
	Details           string
	LoyaltyPointsUsed int64
	// IdempotencyKey необязателен. Повтор запроса с тем же ключом возвращает уже созданный платёж.
	IdempotencyKey string
}

// CreatePayment оплачивает бронирование пользователя.
//
// Поиск бронирования, проверка повторной оплаты, запись платежа, перевод бронирования
// в PAID, начисление PaymentAwardPoints и списание использованных баллов выполняются
// в одной транзакции: при любой ошибке не сохраняется ничего.
func (s *Service) CreatePayment(ctx context.Context, payerID string, req PaymentRequest) (*model.PaymentSummary, error) {
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", model.ErrInvalidAmount)
	}
	if req.LoyaltyPointsUsed < 0 {
		return nil, fmt.Errorf("%w: loyalty points must not be negative", model.ErrInvalidAmount)
	}
	if req.LoyaltyPointsUsed > MaxPointsPerPayment {
		return nil, fmt.Errorf("%w: loyalty points exceed %d", model.ErrInvalidAmount, MaxPointsPerPayment)
	}

	var key *string
	if req.IdempotencyKey != "" {
		parsed, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidIdempotencyKey, err)
		}
		k := parsed.String()
		key = &k
	}

	var (
		summary  *model.PaymentSummary
		replayed bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		replayed = false

		if key != nil {
			existing, err := tx.GetPaymentByIdempotencyKey(ctx, *key)
			switch {
			case err == nil:
				if existing.UserID != payerID || existing.BookingID != req.BookingID {
					return fmt.Errorf("%w: %s", model.ErrIdempotencyConflict, *key)
				}
				summary = &model.PaymentSummary{Payment: *existing, LoyaltyPointsEarned: PaymentAwardPoints}
				replayed = true
				return nil
			case !errors.Is(err, model.ErrNotFound):
				return err
			}
		}

		res, err := s.settle(ctx, tx, payerID, req, key)
		if err != nil {
			return err
		}
		summary = res
		return nil
	})
	if err != nil {
		s.logger.Warn("create payment failed",
			zap.Error(err),
			zap.String("userID", payerID),
			zap.Int64("bookingID", req.BookingID),
		)
		return nil, err
	}

	if replayed {
		s.logger.Info("payment replayed by idempotency key",
			zap.Int64("paymentID", summary.ID),
			zap.Int64("bookingID", summary.BookingID),
		)
		return summary, nil
	}

	s.logger.Info("payment created",
		zap.Int64("paymentID", summary.ID),
		zap.Int64("bookingID", summary.BookingID),
		zap.String("userID", payerID),
		zap.Int64("amount", summary.Amount),
		zap.Int64("pointsEarned", summary.LoyaltyPointsEarned),
		zap.Int64("pointsUsed", summary.LoyaltyPointsUsed),
	)
	return summary, nil
}

func (s *Service) settle(ctx context.Context, tx repository.Tx, payerID string, req PaymentRequest, key *string) (*model.PaymentSummary, error) {
	booking, err := findOwnedBookingTx(ctx, tx, req.BookingID, payerID)
	if err != nil {
		return nil, err
	}

	exists, err := tx.PaymentExistsForBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: booking %d", model.ErrDuplicatePayment, booking.ID)
	}

	method, err := validation.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		BookingID:         booking.ID,
		UserID:            payerID,
		Amount:            DiscountedAmount(req.Amount, req.LoyaltyPointsUsed),
		Method:            method,
		Details:           req.Details,
		LoyaltyPointsUsed: req.LoyaltyPointsUsed,
		IdempotencyKey:    key,
		CreatedAt:         s.now(),
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	if _, err := tx.MarkBookingPaid(ctx, booking.ID); err != nil {
		return nil, err
	}

	// Списание проверяется по остатку до начисления за эту оплату.
	var availableBefore int64
	if req.LoyaltyPointsUsed > 0 {
		account, err := tx.LockLoyaltyAccount(ctx, payerID)
		if err != nil {
			return nil, err
		}
		availableBefore = account.Available
	}

	if _, err := s.ledger.AwardTx(ctx, tx, payerID, PaymentAwardPoints, fmt.Sprintf("Payment for booking #%d", booking.ID)); err != nil {
		return nil, err
	}

	if req.LoyaltyPointsUsed > 0 {
		if req.LoyaltyPointsUsed > availableBefore {
			return nil, fmt.Errorf("%w: available %d, requested %d",
				model.ErrInsufficientPoints, availableBefore, req.LoyaltyPointsUsed)
		}
		_, err := s.ledger.RedeemTx(ctx, tx, payerID, req.LoyaltyPointsUsed, fmt.Sprintf("Payment discount for booking #%d", booking.ID))
		if err != nil {
			return nil, err
		}
	}

	return &model.PaymentSummary{Payment: *payment, LoyaltyPointsEarned: PaymentAwardPoints}, nil
}

// DiscountedAmount вычитает стоимость баллов из суммы. Результат не бывает отрицательным.
func DiscountedAmount(amount, points int64) int64 {
	if points <= 0 {
		return amount
	}
	if points >= MaxPointsPerPayment {
		return 0
	}
	return max(0, amount-points*MinorUnitsPerPoint)
}

// GetPaymentsByUser возвращает платежи пользователя.
func (s *Service) GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error) {
	return s.store.GetPaymentsByUser(ctx, userID)
}
