// Package model содержит доменные сущности сервиса бронирования отелей.
package model

import "time"

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingStatusPaid           BookingStatus = "PAID"
)

// Hotel описывает отель из каталога. Каталог доступен только на чтение.
type Hotel struct {
	ID   int64
	Name string
}

// Booking описывает бронирование номера пользователем.
// Денежные суммы хранятся в сотых долях валюты.
type Booking struct {
	ID            int64
	UserID        string
	HotelID       int64
	HotelName     string
	RoomType      string
	CheckIn       time.Time
	CheckOut      time.Time
	Nights        int
	PricePerNight int64
	Total         int64
	Status        BookingStatus
	CreatedAt     time.Time
}

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodCreditCard    PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard     PaymentMethod = "DEBIT_CARD"
	PaymentMethodPayPal        PaymentMethod = "PAYPAL"
	PaymentMethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash          PaymentMethod = "CASH"
	PaymentMethodDigitalWallet PaymentMethod = "DIGITAL_WALLET"
)

// Payment описывает оплату бронирования. После создания не изменяется.
type Payment struct {
	ID                int64
	BookingID         int64
	UserID            string
	Amount            int64
	Method            PaymentMethod
	Details           string
	LoyaltyPointsUsed int64
	IdempotencyKey    *string
	CreatedAt         time.Time
}

// PaymentSummary возвращается клиенту после успешной оплаты.
type PaymentSummary struct {
	Payment
	LoyaltyPointsEarned int64
}

// LoyaltyAccount содержит счётчики бонусного счёта пользователя.
//
// LifetimePoints растёт при каждом начислении и никогда не уменьшается при списании.
// Available всегда равен TotalEarned - TotalRedeemed и не бывает отрицательным.
type LoyaltyAccount struct {
	ID             int64
	UserID         string
	LifetimePoints int64
	Available      int64
	TotalEarned    int64
	TotalRedeemed  int64
}

// LoyaltyHistoryType описывает тип операции по бонусному счёту.
type LoyaltyHistoryType string

const (
	LoyaltyHistoryEarned   LoyaltyHistoryType = "EARNED"
	LoyaltyHistoryRedeemed LoyaltyHistoryType = "REDEEMED"
)

// LoyaltyHistoryEntry описывает одну операцию по бонусному счёту.
// Points всегда положителен, знак определяется типом.
type LoyaltyHistoryEntry struct {
	ID          int64
	LoyaltyID   int64
	Type        LoyaltyHistoryType
	Points      int64
	Description string
	CreatedAt   time.Time
}

// LoyaltySummary объединяет состояние счёта и историю операций.
type LoyaltySummary struct {
	Account LoyaltyAccount
	History []LoyaltyHistoryEntry
}

// Review описывает отзыв пользователя об отеле по завершённому бронированию.
type Review struct {
	ID        int64
	BookingID int64
	HotelID   int64
	UserID    string
	Rating    int
	Comment   string
	CreatedAt time.Time
}
