package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/repository"
)

// ReviewAwardPoints начисляется за отзыв об оплаченном или забронированном отеле.
const ReviewAwardPoints int64 = 50

// ReviewRequest содержит параметры отзыва.
type ReviewRequest struct {
	BookingID int64
	Rating    int
	Comment   string
}

// SubmitReview сохраняет отзыв пользователя о бронировании и начисляет ReviewAwardPoints.
// Отзыв и начисление фиксируются в одной транзакции.
func (s *Service) SubmitReview(ctx context.Context, reviewerID string, req ReviewRequest) (*model.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", model.ErrInvalidReview)
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, fmt.Errorf("%w: comment is required", model.ErrInvalidReview)
	}

	var review *model.Review
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		booking, err := findOwnedBookingTx(ctx, tx, req.BookingID, reviewerID)
		if err != nil {
			return err
		}

		exists, err := tx.ReviewExistsForBooking(ctx, booking.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: booking %d", model.ErrDuplicateReview, booking.ID)
		}

		r := &model.Review{
			BookingID: booking.ID,
			HotelID:   booking.HotelID,
			UserID:    reviewerID,
			Rating:    req.Rating,
			Comment:   comment,
			CreatedAt: s.now(),
		}
		if err := tx.CreateReview(ctx, r); err != nil {
			return err
		}

		if _, err := s.ledger.AwardTx(ctx, tx, reviewerID, ReviewAwardPoints, "Hotel review for "+booking.HotelName); err != nil {
			return err
		}

		review = r
		return nil
	})
	if err != nil {
		s.logger.Warn("submit review failed",
			zap.Error(err),
			zap.String("userID", reviewerID),
			zap.Int64("bookingID", req.BookingID),
		)
		return nil, err
	}

	s.logger.Info("review submitted",
		zap.Int64("reviewID", review.ID),
		zap.Int64("bookingID", review.BookingID),
		zap.String("userID", reviewerID),
	)
	return review, nil
}

// GetReviewsByUser возвращает отзывы пользователя.
func (s *Service) GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error) {
	return s.store.GetReviewsByUser(ctx, userID)
}
