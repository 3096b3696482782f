// Package repository содержит реализации хранилища данных: PostgreSQL для
// рабочего окружения и встроенный SQLite для локального запуска и тестов.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrate применяет миграции из каталога dir. Провайдер создаётся на каждое хранилище,
// глобальное состояние goose не затрагивается.
func migrate(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string) (int, error) {
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	return len(results), nil
}

// Tx описывает операции, выполняемые внутри одной транзакции хранилища.
// Все изменения, сделанные через Tx, фиксируются или откатываются вместе.
type Tx interface {
	// GetBookingForUpdate возвращает бронирование и блокирует его строку до конца транзакции.
	GetBookingForUpdate(ctx context.Context, id int64) (*model.Booking, error)
	// MarkBookingPaid переводит бронирование в статус PAID. Повторный вызов не является ошибкой.
	MarkBookingPaid(ctx context.Context, id int64) (*model.Booking, error)

	PaymentExistsForBooking(ctx context.Context, bookingID int64) (bool, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
	CreatePayment(ctx context.Context, p *model.Payment) error

	// LockLoyaltyAccount возвращает бонусный счёт пользователя, при необходимости создавая его,
	// и блокирует строку счёта до конца транзакции.
	LockLoyaltyAccount(ctx context.Context, userID string) (*model.LoyaltyAccount, error)
	UpdateLoyaltyAccount(ctx context.Context, a *model.LoyaltyAccount) error
	AddLoyaltyHistory(ctx context.Context, e *model.LoyaltyHistoryEntry) error

	ReviewExistsForBooking(ctx context.Context, bookingID int64) (bool, error)
	CreateReview(ctx context.Context, r *model.Review) error
}

// TxFunc выполняется внутри транзакции. Транзакция фиксируется, только если функция вернула nil.
type TxFunc func(tx Tx) error
