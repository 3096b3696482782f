package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/hotelbooking/internal/middleware"
	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/service"
)

const testUser = "guest@example.com"

type stubService struct {
	bookingResp *model.Booking
	bookingReq  service.BookingRequest
	bookingErr  error

	bookingsResp []model.Booking
	bookingsErr  error

	paymentResp *model.PaymentSummary
	paymentReq  service.PaymentRequest
	paymentUser string
	paymentErr  error

	paymentsResp []model.Payment

	reviewResp *model.Review
	reviewErr  error

	reviewsResp []model.Review

	loyaltyResp *model.LoyaltySummary
	loyaltyErr  error

	historyResp []model.LoyaltyHistoryEntry

	redeemResp   *model.LoyaltyAccount
	redeemPoints int64
	redeemErr    error
}

func (s *stubService) CreateBooking(ctx context.Context, userID string, req service.BookingRequest) (*model.Booking, error) {
	s.bookingReq = req
	return s.bookingResp, s.bookingErr
}

func (s *stubService) GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	return s.bookingsResp, s.bookingsErr
}

func (s *stubService) CreatePayment(ctx context.Context, payerID string, req service.PaymentRequest) (*model.PaymentSummary, error) {
	s.paymentReq = req
	s.paymentUser = payerID
	return s.paymentResp, s.paymentErr
}

func (s *stubService) GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error) {
	return s.paymentsResp, nil
}

func (s *stubService) SubmitReview(ctx context.Context, reviewerID string, req service.ReviewRequest) (*model.Review, error) {
	return s.reviewResp, s.reviewErr
}

func (s *stubService) GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error) {
	return s.reviewsResp, nil
}

func (s *stubService) GetLoyalty(ctx context.Context, userID string) (*model.LoyaltySummary, error) {
	return s.loyaltyResp, s.loyaltyErr
}

func (s *stubService) GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error) {
	return s.historyResp, nil
}

func (s *stubService) RedeemPoints(ctx context.Context, userID string, points int64) (*model.LoyaltyAccount, error) {
	s.redeemPoints = points
	return s.redeemResp, s.redeemErr
}

type testServer struct {
	router http.Handler
	token  string
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	token, err := auth.IssueToken(jwt.RegisteredClaims{
		Subject:   testUser,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	h := NewHandler(svc, zap.NewNop(), auth, nil)
	return &testServer{router: h.SetupRouter(), token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	for _, path := range []string{"/api/user/bookings", "/api/user/payments", "/api/user/loyalty"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateBooking_Success(t *testing.T) {
	svc := &stubService{
		bookingResp: &model.Booking{
			ID:            7,
			HotelID:       1,
			HotelName:     "Grand",
			RoomType:      "DELUXE",
			CheckIn:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			CheckOut:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
			Nights:        2,
			PricePerNight: 10050,
			Total:         20100,
			Status:        model.BookingStatusPendingPayment,
		},
	}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/user/bookings", bookingRequest{
		HotelID:       1,
		RoomType:      "deluxe",
		CheckInDate:   "2026-03-01",
		CheckOutDate:  "2026-03-03",
		PricePerNight: 100.5,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(10050), svc.bookingReq.PricePerNight)

	var resp bookingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, "2026-03-03", resp.CheckOutDate)
	assert.InDelta(t, 201.0, resp.TotalPrice, 0.001)
	assert.Equal(t, "PENDING_PAYMENT", resp.Status)
}

func TestCreateBooking_BadDate(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodPost, "/api/user/bookings", bookingRequest{
		HotelID:      1,
		RoomType:     "single",
		CheckInDate:  "01.03.2026",
		CheckOutDate: "2026-03-03",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBookings_NoContent(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodGet, "/api/user/bookings", nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreatePayment_Success(t *testing.T) {
	svc := &stubService{
		paymentResp: &model.PaymentSummary{
			Payment: model.Payment{
				ID:                3,
				BookingID:         7,
				Amount:            17000,
				Method:            model.PaymentMethodCreditCard,
				LoyaltyPointsUsed: 30,
			},
			LoyaltyPointsEarned: 50,
		},
	}
	ts := newTestServer(t, svc)

	const key = "6f1c2a5e-8d3b-4a7f-9c1e-2b3d4e5f6a7b"
	body := `{"bookingId":7,"amount":200,"method":"credit card","details":{"cardLast4":"4242"},"loyaltyPointsUsed":30}`
	rec := ts.do(t, http.MethodPost, "/api/user/payments", body, map[string]string{"Idempotency-Key": key})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, testUser, svc.paymentUser)
	assert.Equal(t, int64(20000), svc.paymentReq.Amount)
	assert.Equal(t, key, svc.paymentReq.IdempotencyKey)
	assert.Equal(t, "credit card", svc.paymentReq.Method)
	assert.JSONEq(t, `{"cardLast4":"4242"}`, svc.paymentReq.Details)

	var resp paymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.InDelta(t, 170.0, resp.Amount, 0.001)
	assert.Equal(t, "CREDIT_CARD", resp.Method)
	require.NotNil(t, resp.LoyaltyPointsEarned)
	assert.Equal(t, int64(50), *resp.LoyaltyPointsEarned)
	assert.Equal(t, int64(30), resp.LoyaltyPointsUsed)
}

func TestCreatePayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: model.ErrNotFound, want: http.StatusNotFound},
		{name: "foreign booking", err: model.ErrUnauthorized, want: http.StatusForbidden},
		{name: "duplicate", err: model.ErrDuplicatePayment, want: http.StatusConflict},
		{name: "idempotency conflict", err: model.ErrIdempotencyConflict, want: http.StatusConflict},
		{name: "bad method", err: model.ErrInvalidPaymentMethod, want: http.StatusBadRequest},
		{name: "bad amount", err: model.ErrInvalidAmount, want: http.StatusBadRequest},
		{name: "bad key", err: model.ErrInvalidIdempotencyKey, want: http.StatusBadRequest},
		{name: "insufficient points", err: model.ErrInsufficientPoints, want: http.StatusBadRequest},
		{name: "internal", err: fmt.Errorf("insert payment: %w", context.DeadlineExceeded), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{paymentErr: fmt.Errorf("%w: booking 7", tt.err)}
			ts := newTestServer(t, svc)

			rec := ts.do(t, http.MethodPost, "/api/user/payments", `{"bookingId":7,"amount":200,"method":"cash"}`, nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			msg := decodeError(t, rec)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, http.StatusText(http.StatusInternalServerError), msg)
			} else {
				assert.Contains(t, msg, tt.err.Error())
			}
		})
	}
}

func TestCreatePayment_StringDetails(t *testing.T) {
	svc := &stubService{paymentResp: &model.PaymentSummary{Payment: model.Payment{ID: 1, BookingID: 7, Method: model.PaymentMethodCash}}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/user/payments", `{"bookingId":7,"amount":0,"method":"cash","details":"front desk"}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "front desk", svc.paymentReq.Details)
	assert.Equal(t, int64(0), svc.paymentReq.Amount)
}

func TestCreatePayment_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no amount", body: `{"bookingId":7,"method":"cash"}`},
		{name: "null amount", body: `{"bookingId":7,"amount":null,"method":"cash"}`},
		{name: "no booking", body: `{"amount":200,"method":"cash"}`},
		{name: "no method", body: `{"bookingId":7,"amount":200}`},
		{name: "old field names", body: `{"bookingId":7,"amount":200,"paymentMethod":"cash"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			ts := newTestServer(t, svc)

			rec := ts.do(t, http.MethodPost, "/api/user/payments", tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "missing required payment fields", decodeError(t, rec))
			assert.Empty(t, svc.paymentUser)
		})
	}
}

func TestCreatePayment_MalformedBody(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodPost, "/api/user/payments", `{"bookingId": "seven"`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed request body", decodeError(t, rec))
}

func TestSubmitReview(t *testing.T) {
	svc := &stubService{reviewResp: &model.Review{ID: 1, BookingID: 7, HotelID: 1, Rating: 5, Comment: "Great"}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/user/reviews", reviewRequest{BookingID: 7, Rating: 5, Comment: "Great"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	svc.reviewErr = model.ErrDuplicateReview
	rec = ts.do(t, http.MethodPost, "/api/user/reviews", reviewRequest{BookingID: 7, Rating: 5, Comment: "Again"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.reviewErr = model.ErrInvalidReview
	rec = ts.do(t, http.MethodPost, "/api/user/reviews", reviewRequest{BookingID: 7, Rating: 9, Comment: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLoyalty(t *testing.T) {
	svc := &stubService{
		loyaltyResp: &model.LoyaltySummary{
			Account: model.LoyaltyAccount{LifetimePoints: 80, Available: 50, TotalEarned: 80, TotalRedeemed: 30},
			History: []model.LoyaltyHistoryEntry{
				{ID: 2, Type: model.LoyaltyHistoryRedeemed, Points: 30, Description: "Payment discount for booking #7"},
				{ID: 1, Type: model.LoyaltyHistoryEarned, Points: 80, Description: "Payment for booking #7"},
			},
		},
	}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/user/loyalty", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Points          int64 `json:"points"`
		AvailablePoints int64 `json:"availablePoints"`
		TotalEarned     int64 `json:"totalEarned"`
		TotalRedeemed   int64 `json:"totalRedeemed"`
		History         []historyEntryResponse
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(80), resp.Points)
	assert.Equal(t, int64(50), resp.AvailablePoints)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "REDEEMED", resp.History[0].Type)
}

func TestGetLoyaltyHistory_EmptyList(t *testing.T) {
	ts := newTestServer(t, &stubService{historyResp: []model.LoyaltyHistoryEntry{}})

	rec := ts.do(t, http.MethodGet, "/api/user/loyalty/history", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRedeemPoints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", want: http.StatusOK},
		{name: "insufficient points", err: model.ErrInsufficientPoints, want: http.StatusPaymentRequired},
		{name: "non-positive points", err: model.ErrInvalidAmount, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				redeemResp: &model.LoyaltyAccount{Available: 20, TotalEarned: 50, TotalRedeemed: 30, LifetimePoints: 50},
				redeemErr:  tt.err,
			}
			ts := newTestServer(t, svc)

			rec := ts.do(t, http.MethodPost, "/api/user/loyalty/redeem", redeemRequest{Points: 30}, nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, int64(30), svc.redeemPoints)
		})
	}
}
