package model

import "errors"

// Ошибки предметной области. Сервис оборачивает их через fmt.Errorf("%w: ..."),
// поэтому проверять их нужно через errors.Is.
var (
	// ErrNotFound возвращается, если бронирование или отель не найдены.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized возвращается, если бронирование принадлежит другому пользователю.
	ErrUnauthorized = errors.New("booking belongs to another user")
	// ErrDuplicatePayment возвращается при повторной оплате бронирования.
	ErrDuplicatePayment = errors.New("payment already exists for booking")
	// ErrInvalidPaymentMethod возвращается, если способ оплаты не распознан.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInsufficientPoints возвращается при списании баллов сверх доступного остатка.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	// ErrInvalidAmount возвращается при неположительном количестве баллов или некорректной сумме.
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidBooking = errors.New("invalid booking request")
	ErrInvalidReview  = errors.New("invalid review")
	// ErrDuplicateReview возвращается, если отзыв по бронированию уже оставлен.
	ErrDuplicateReview = errors.New("review already exists for booking")
	// ErrIdempotencyConflict возвращается, если ключ идемпотентности уже использован для другого запроса.
	ErrIdempotencyConflict = errors.New("idempotency key already used for another request")
	// ErrInvalidIdempotencyKey возвращается, если ключ идемпотентности не является UUID.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
)
