package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

func TestDiscountedAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		points int64
		want   int64
	}{
		{name: "no points", amount: 20000, points: 0, want: 20000},
		{name: "partial discount", amount: 20000, points: 30, want: 17000},
		{name: "full discount", amount: 20000, points: 200, want: 0},
		{name: "points exceed amount", amount: 20000, points: 500, want: 0},
		{name: "points at overflow bound", amount: 20000, points: MaxPointsPerPayment, want: 0},
		{name: "points past overflow bound", amount: 20000, points: math.MaxInt64, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiscountedAmount(tt.amount, tt.points))
		})
	}
}

func TestCreatePaymentWithoutPoints(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	summary, err := svc.CreatePayment(ctx, guest, PaymentRequest{
		BookingID: b.ID,
		Amount:    20000,
		Method:    "credit card",
		Details:   "**** 4242",
	})
	require.NoError(t, err)

	assert.NotZero(t, summary.ID)
	assert.Equal(t, int64(20000), summary.Amount)
	assert.Equal(t, model.PaymentMethodCreditCard, summary.Method)
	assert.Equal(t, PaymentAwardPoints, summary.LoyaltyPointsEarned)
	assert.Equal(t, int64(0), summary.LoyaltyPointsUsed)

	booking, err := svc.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPaid, booking.Status)

	loyalty, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(50), loyalty.Account.Available)
	assertAccountBalanced(t, &loyalty.Account)
	require.Len(t, loyalty.History, 1)
	assert.Equal(t, model.LoyaltyHistoryEarned, loyalty.History[0].Type)
	assert.Equal(t, "Payment for booking #1", loyalty.History[0].Description)

	payments, err := svc.GetPaymentsByUser(ctx, guest)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, summary.ID, payments[0].ID)
}

func TestCreatePaymentWithPoints(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	_, err := svc.Ledger().Award(ctx, guest, 30, "welcome")
	require.NoError(t, err)

	summary, err := svc.CreatePayment(ctx, guest, PaymentRequest{
		BookingID:         b.ID,
		Amount:            20000,
		Method:            "PAYPAL",
		LoyaltyPointsUsed: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17000), summary.Amount)
	assert.Equal(t, int64(30), summary.LoyaltyPointsUsed)
	assert.Equal(t, int64(50), summary.LoyaltyPointsEarned)

	loyalty, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(50), loyalty.Account.Available)
	assert.Equal(t, int64(80), loyalty.Account.TotalEarned)
	assert.Equal(t, int64(30), loyalty.Account.TotalRedeemed)
	assert.Equal(t, int64(80), loyalty.Account.LifetimePoints)
	assertAccountBalanced(t, &loyalty.Account)

	require.Len(t, loyalty.History, 3)
	assert.Equal(t, model.LoyaltyHistoryRedeemed, loyalty.History[0].Type)
	assert.Equal(t, "Payment discount for booking #1", loyalty.History[0].Description)
	assert.Equal(t, model.LoyaltyHistoryEarned, loyalty.History[1].Type)
}

func TestCreatePaymentDuplicate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	req := PaymentRequest{BookingID: b.ID, Amount: 20000, Method: "cash"}
	_, err := svc.CreatePayment(ctx, guest, req)
	require.NoError(t, err)

	before, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)

	_, err = svc.CreatePayment(ctx, guest, req)
	require.ErrorIs(t, err, model.ErrDuplicatePayment)

	after, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, before.Account, after.Account)
	assert.Len(t, after.History, len(before.History))

	payments, err := svc.GetPaymentsByUser(ctx, guest)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	booking, err := svc.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPaid, booking.Status)
}

func TestCreatePaymentInsufficientPointsRollsBack(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	_, err := svc.Ledger().Award(ctx, guest, 10, "welcome")
	require.NoError(t, err)

	_, err = svc.CreatePayment(ctx, guest, PaymentRequest{
		BookingID:         b.ID,
		Amount:            20000,
		Method:            "debit card",
		LoyaltyPointsUsed: 20,
	})
	require.ErrorIs(t, err, model.ErrInsufficientPoints)

	booking, err := svc.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPendingPayment, booking.Status)

	payments, err := svc.GetPaymentsByUser(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, payments)

	loyalty, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(10), loyalty.Account.Available)
	assert.Equal(t, int64(10), loyalty.Account.TotalEarned)
	assert.Len(t, loyalty.History, 1)
}

func TestCreatePaymentRedeemDoesNotUseAward(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	_, err := svc.CreatePayment(ctx, guest, PaymentRequest{
		BookingID:         b.ID,
		Amount:            20000,
		Method:            "cash",
		LoyaltyPointsUsed: 30,
	})
	require.ErrorIs(t, err, model.ErrInsufficientPoints)

	history, err := svc.GetLoyaltyHistory(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreatePaymentErrors(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	tests := []struct {
		name    string
		payer   string
		req     PaymentRequest
		wantErr error
	}{
		{
			name:    "booking not found",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID + 10, Amount: 100, Method: "cash"},
			wantErr: model.ErrNotFound,
		},
		{
			name:    "foreign booking",
			payer:   other,
			req:     PaymentRequest{BookingID: b.ID, Amount: 100, Method: "cash"},
			wantErr: model.ErrUnauthorized,
		},
		{
			name:    "unknown method",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID, Amount: 100, Method: "bitcoin"},
			wantErr: model.ErrInvalidPaymentMethod,
		},
		{
			name:    "negative amount",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID, Amount: -1, Method: "cash"},
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:    "negative points",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID, Amount: 100, Method: "cash", LoyaltyPointsUsed: -3},
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:    "points overflow amount",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID, Amount: 100, Method: "cash", LoyaltyPointsUsed: MaxPointsPerPayment + 1},
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:    "malformed idempotency key",
			payer:   guest,
			req:     PaymentRequest{BookingID: b.ID, Amount: 100, Method: "cash", IdempotencyKey: "not-a-uuid"},
			wantErr: model.ErrInvalidIdempotencyKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePayment(ctx, tt.payer, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	booking, err := svc.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPendingPayment, booking.Status)
}

func TestCreatePaymentIdempotencyKey(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	hotelID := seedHotel(t, repo, "Grand")
	b := seedBooking(t, svc, hotelID, guest)
	second := seedBooking(t, svc, hotelID, guest)

	const key = "6f1c2a5e-8d3b-4a7f-9c1e-2b3d4e5f6a7b"
	req := PaymentRequest{BookingID: b.ID, Amount: 20000, Method: "upi", IdempotencyKey: key}

	first, err := svc.CreatePayment(ctx, guest, req)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentMethodDigitalWallet, first.Method)

	replay, err := svc.CreatePayment(ctx, guest, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, first.Amount, replay.Amount)
	assert.Equal(t, PaymentAwardPoints, replay.LoyaltyPointsEarned)

	history, err := svc.GetLoyaltyHistory(ctx, guest)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = svc.CreatePayment(ctx, other, req)
	require.ErrorIs(t, err, model.ErrIdempotencyConflict)

	_, err = svc.CreatePayment(ctx, guest, PaymentRequest{BookingID: second.ID, Amount: 20000, Method: "cash", IdempotencyKey: key})
	require.ErrorIs(t, err, model.ErrIdempotencyConflict)
}

func TestCreatePaymentConcurrentDuplicate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	b := seedBooking(t, svc, seedHotel(t, repo, "Grand"), guest)

	const attempts = 4
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreatePayment(ctx, guest, PaymentRequest{BookingID: b.ID, Amount: 20000, Method: "cash"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrDuplicatePayment):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, duplicates)

	payments, err := svc.GetPaymentsByUser(ctx, guest)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	loyalty, err := svc.GetLoyalty(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(50), loyalty.Account.Available)
	assertAccountBalanced(t, &loyalty.Account)
}
