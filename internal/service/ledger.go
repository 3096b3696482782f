package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/hotelbooking/internal/model"
	"github.com/mmeshcher/hotelbooking/internal/repository"
)

// Ledger ведёт бонусные счета пользователей и журнал операций по ним.
//
// Каждое изменение счёта блокирует его строку на время проверки и записи,
// поэтому параллельные списания одного пользователя не могут вместе превысить остаток.
// Методы с суффиксом Tx выполняются в транзакции вызывающего кода.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger создаёт бонусный счёт поверх хранилища. now задаёт время записей журнала.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: store, now: now}
}

// GetOrCreateAccount возвращает счёт пользователя, создавая его с нулевыми счётчиками при первом обращении.
func (l *Ledger) GetOrCreateAccount(ctx context.Context, userID string) (*model.LoyaltyAccount, error) {
	var account *model.LoyaltyAccount
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		a, err := tx.LockLoyaltyAccount(ctx, userID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Award начисляет баллы в отдельной транзакции.
func (l *Ledger) Award(ctx context.Context, userID string, points int64, description string) (*model.LoyaltyAccount, error) {
	var account *model.LoyaltyAccount
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		a, err := l.AwardTx(ctx, tx, userID, points, description)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Redeem списывает баллы в отдельной транзакции.
func (l *Ledger) Redeem(ctx context.Context, userID string, points int64, description string) (*model.LoyaltyAccount, error) {
	var account *model.LoyaltyAccount
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		a, err := l.RedeemTx(ctx, tx, userID, points, description)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// AwardTx начисляет баллы: увеличивает LifetimePoints, Available и TotalEarned
// и добавляет запись EARNED в журнал.
func (l *Ledger) AwardTx(ctx context.Context, tx repository.Tx, userID string, points int64, description string) (*model.LoyaltyAccount, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: award of %d points", model.ErrInvalidAmount, points)
	}

	account, err := tx.LockLoyaltyAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	account.LifetimePoints += points
	account.Available += points
	account.TotalEarned += points

	if err := l.apply(ctx, tx, account, model.LoyaltyHistoryEarned, points, description); err != nil {
		return nil, err
	}
	return account, nil
}

// RedeemTx списывает баллы: уменьшает Available, увеличивает TotalRedeemed
// и добавляет запись REDEEMED в журнал. Если баллов не хватает, счёт не меняется.
func (l *Ledger) RedeemTx(ctx context.Context, tx repository.Tx, userID string, points int64, description string) (*model.LoyaltyAccount, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: redemption of %d points", model.ErrInvalidAmount, points)
	}

	account, err := tx.LockLoyaltyAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if points > account.Available {
		return nil, fmt.Errorf("%w: available %d, requested %d", model.ErrInsufficientPoints, account.Available, points)
	}

	account.Available -= points
	account.TotalRedeemed += points

	if err := l.apply(ctx, tx, account, model.LoyaltyHistoryRedeemed, points, description); err != nil {
		return nil, err
	}
	return account, nil
}

func (l *Ledger) apply(ctx context.Context, tx repository.Tx, account *model.LoyaltyAccount, typ model.LoyaltyHistoryType, points int64, description string) error {
	if err := tx.UpdateLoyaltyAccount(ctx, account); err != nil {
		return err
	}

	entry := &model.LoyaltyHistoryEntry{
		LoyaltyID:   account.ID,
		Type:        typ,
		Points:      points,
		Description: description,
		CreatedAt:   l.now(),
	}
	return tx.AddLoyaltyHistory(ctx, entry)
}

// History возвращает журнал операций пользователя, новые записи первыми.
// Для пользователя без операций возвращается пустой срез.
func (l *Ledger) History(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error) {
	history, err := l.store.GetLoyaltyHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []model.LoyaltyHistoryEntry{}
	}
	return history, nil
}

// Summary возвращает состояние счёта вместе с журналом операций.
func (l *Ledger) Summary(ctx context.Context, userID string) (*model.LoyaltySummary, error) {
	account, err := l.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	history, err := l.History(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.LoyaltySummary{Account: *account, History: history}, nil
}
