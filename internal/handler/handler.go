// Package handler содержит HTTP-обработчики API сервиса бронирования.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/middleware"
	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateBooking(ctx context.Context, userID string, req service.BookingRequest) (*model.Booking, error)
	GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error)
	CreatePayment(ctx context.Context, payerID string, req service.PaymentRequest) (*model.PaymentSummary, error)
	GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error)
	SubmitReview(ctx context.Context, reviewerID string, req service.ReviewRequest) (*model.Review, error)
	GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error)
	GetLoyalty(ctx context.Context, userID string) (*model.LoyaltySummary, error)
	GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error)
	RedeemPoints(ctx context.Context, userID string, points int64) (*model.LoyaltyAccount, error)
}

// Handler реализует HTTP-обработчики API сервиса бронирования.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Если rateLimiter равен nil, частота запросов не ограничивается.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) *Handler {
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimiter(0, 1)
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    rateLimiter,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError отвечает кодом, соответствующим доменной ошибке.
// insufficientStatus задаёт код для нехватки баллов: он зависит от операции.
func (h *Handler) writeError(w http.ResponseWriter, err error, insufficientStatus int, op string, userID string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrDuplicatePayment),
		errors.Is(err, model.ErrDuplicateReview),
		errors.Is(err, model.ErrIdempotencyConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInsufficientPoints):
		status = insufficientStatus
	case errors.Is(err, model.ErrInvalidPaymentMethod),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidBooking),
		errors.Is(err, model.ErrInvalidReview),
		errors.Is(err, model.ErrInvalidIdempotencyKey):
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("userID", userID))
		msg = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func toMinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromMinorUnits(v int64) float64 {
	return float64(v) / 100
}

type bookingRequest struct {
	HotelID       int64   `json:"hotelId"`
	RoomType      string  `json:"roomType"`
	CheckInDate   string  `json:"checkInDate"`
	CheckOutDate  string  `json:"checkOutDate"`
	PricePerNight float64 `json:"pricePerNight"`
}

type bookingResponse struct {
	ID            int64   `json:"id"`
	HotelID       int64   `json:"hotelId"`
	HotelName     string  `json:"hotelName"`
	RoomType      string  `json:"roomType"`
	CheckInDate   string  `json:"checkInDate"`
	CheckOutDate  string  `json:"checkOutDate"`
	Nights        int     `json:"nights"`
	PricePerNight float64 `json:"pricePerNight"`
	TotalPrice    float64 `json:"totalPrice"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
}

func newBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		HotelID:       b.HotelID,
		HotelName:     b.HotelName,
		RoomType:      b.RoomType,
		CheckInDate:   b.CheckIn.Format(dateLayout),
		CheckOutDate:  b.CheckOut.Format(dateLayout),
		Nights:        b.Nights,
		PricePerNight: fromMinorUnits(b.PricePerNight),
		TotalPrice:    fromMinorUnits(b.Total),
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
}

// CreateBooking создаёт бронирование текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	checkIn, err := time.Parse(dateLayout, req.CheckInDate)
	if err != nil {
		badRequest(w, "checkInDate must be formatted as YYYY-MM-DD")
		return
	}
	checkOut, err := time.Parse(dateLayout, req.CheckOutDate)
	if err != nil {
		badRequest(w, "checkOutDate must be formatted as YYYY-MM-DD")
		return
	}

	booking, err := h.service.CreateBooking(r.Context(), userID, service.BookingRequest{
		HotelID:       req.HotelID,
		RoomType:      req.RoomType,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		PricePerNight: toMinorUnits(req.PricePerNight),
	})
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "create booking", userID)
		return
	}

	writeJSON(w, http.StatusCreated, newBookingResponse(booking))
}

// GetBookings возвращает бронирования текущего пользователя.
func (h *Handler) GetBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bookings, err := h.service.GetBookingsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "get bookings", userID)
		return
	}

	if len(bookings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, newBookingResponse(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type paymentRequest struct {
	BookingID         *int64          `json:"bookingId"`
	Amount            *float64        `json:"amount"`
	Method            string          `json:"method"`
	Details           json.RawMessage `json:"details"`
	LoyaltyPointsUsed int64           `json:"loyaltyPointsUsed"`
}

// detailsText приводит реквизиты платежа к строке: JSON-строка хранится как есть, объект хранится текстом.
func detailsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type paymentResponse struct {
	ID                  int64   `json:"id"`
	BookingID           int64   `json:"bookingId"`
	Amount              float64 `json:"amount"`
	Method              string  `json:"method"`
	Details             string  `json:"details,omitempty"`
	LoyaltyPointsEarned *int64  `json:"loyaltyPointsEarned,omitempty"`
	LoyaltyPointsUsed   int64   `json:"loyaltyPointsUsed"`
	CreatedAt           string  `json:"createdAt"`
}

func newPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		BookingID:         p.BookingID,
		Amount:            fromMinorUnits(p.Amount),
		Method:            string(p.Method),
		Details:           p.Details,
		LoyaltyPointsUsed: p.LoyaltyPointsUsed,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePayment оплачивает бронирование текущего пользователя.
// Необязательный заголовок Idempotency-Key защищает от повторной обработки того же запроса.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if req.BookingID == nil || req.Amount == nil || req.Method == "" {
		badRequest(w, "missing required payment fields")
		return
	}

	summary, err := h.service.CreatePayment(r.Context(), userID, service.PaymentRequest{
		BookingID:         *req.BookingID,
		Amount:            toMinorUnits(*req.Amount),
		Method:            req.Method,
		Details:           detailsText(req.Details),
		LoyaltyPointsUsed: req.LoyaltyPointsUsed,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "create payment", userID)
		return
	}

	resp := newPaymentResponse(&summary.Payment)
	earned := summary.LoyaltyPointsEarned
	resp.LoyaltyPointsEarned = &earned
	writeJSON(w, http.StatusCreated, resp)
}

// GetPayments возвращает платежи текущего пользователя.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, err := h.service.GetPaymentsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "get payments", userID)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, newPaymentResponse(&payments[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type reviewRequest struct {
	BookingID int64  `json:"bookingId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type reviewResponse struct {
	ID        int64  `json:"id"`
	BookingID int64  `json:"bookingId"`
	HotelID   int64  `json:"hotelId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"createdAt"`
}

func newReviewResponse(rv *model.Review) reviewResponse {
	return reviewResponse{
		ID:        rv.ID,
		BookingID: rv.BookingID,
		HotelID:   rv.HotelID,
		Rating:    rv.Rating,
		Comment:   rv.Comment,
		CreatedAt: rv.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitReview сохраняет отзыв текущего пользователя о бронировании.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	review, err := h.service.SubmitReview(r.Context(), userID, service.ReviewRequest{
		BookingID: req.BookingID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "submit review", userID)
		return
	}

	writeJSON(w, http.StatusCreated, newReviewResponse(review))
}

// GetReviews возвращает отзывы текущего пользователя.
func (h *Handler) GetReviews(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	reviews, err := h.service.GetReviewsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "get reviews", userID)
		return
	}

	if len(reviews) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]reviewResponse, 0, len(reviews))
	for i := range reviews {
		resp = append(resp, newReviewResponse(&reviews[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type accountResponse struct {
	Points          int64 `json:"points"`
	AvailablePoints int64 `json:"availablePoints"`
	TotalEarned     int64 `json:"totalEarned"`
	TotalRedeemed   int64 `json:"totalRedeemed"`
}

type historyEntryResponse struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

type loyaltyResponse struct {
	accountResponse
	History []historyEntryResponse `json:"history"`
}

func newAccountResponse(a *model.LoyaltyAccount) accountResponse {
	return accountResponse{
		Points:          a.LifetimePoints,
		AvailablePoints: a.Available,
		TotalEarned:     a.TotalEarned,
		TotalRedeemed:   a.TotalRedeemed,
	}
}

func newHistoryResponse(history []model.LoyaltyHistoryEntry) []historyEntryResponse {
	resp := make([]historyEntryResponse, 0, len(history))
	for _, e := range history {
		resp = append(resp, historyEntryResponse{
			ID:          e.ID,
			Type:        string(e.Type),
			Points:      e.Points,
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// GetLoyalty возвращает бонусный счёт текущего пользователя вместе с журналом операций.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	summary, err := h.service.GetLoyalty(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "get loyalty", userID)
		return
	}

	writeJSON(w, http.StatusOK, loyaltyResponse{
		accountResponse: newAccountResponse(&summary.Account),
		History:         newHistoryResponse(summary.History),
	})
}

// GetLoyaltyHistory возвращает журнал бонусных операций текущего пользователя.
func (h *Handler) GetLoyaltyHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	history, err := h.service.GetLoyaltyHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, http.StatusBadRequest, "get loyalty history", userID)
		return
	}

	writeJSON(w, http.StatusOK, newHistoryResponse(history))
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

// RedeemPoints списывает баллы текущего пользователя.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	account, err := h.service.RedeemPoints(r.Context(), userID, req.Points)
	if err != nil {
		h.writeError(w, err, http.StatusPaymentRequired, "redeem points", userID)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}
