package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

const (
	pgBookingCols = `b.id, b.user_id, b.hotel_id, h.name, b.room_type, b.check_in, b.check_out,
		b.nights, b.price_per_night, b.total, b.status, b.created_at`
	pgPaymentCols = `id, booking_id, user_id, amount, method, details, loyalty_points_used, idempotency_key, created_at`
)

// pgQuerier покрывает общие методы pgxpool.Pool и pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:        pool,
		retryDelays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	_, err := migrate(ctx, goose.DialectPostgres, db, "migrations/postgres")
	return err
}

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке или обрыве соединения.
// Повторяется транзакция целиком, поэтому fn не должна иметь побочных эффектов вне БД.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.retryDelays) {
			break
		}

		timer := time.NewTimer(r.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции с уровнем изоляции SERIALIZABLE.
// При конфликте сериализации транзакция повторяется целиком.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// UpsertHotel сохраняет копию записи каталога отелей.
func (r *PostgresRepository) UpsertHotel(ctx context.Context, h *model.Hotel) error {
	if h.ID == 0 {
		err := r.pool.QueryRow(ctx, `INSERT INTO hotels (name) VALUES ($1) RETURNING id`, h.Name).Scan(&h.ID)
		if err != nil {
			return fmt.Errorf("insert hotel: %w", err)
		}
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO hotels (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		h.ID, h.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert hotel: %w", err)
	}

	// Явный id не двигает последовательность, иначе следующая вставка без id столкнётся с ним.
	_, err = r.pool.Exec(ctx, `SELECT setval('hotels_id_seq', GREATEST($1, last_value)) FROM hotels_id_seq`, h.ID)
	if err != nil {
		return fmt.Errorf("advance hotel id sequence: %w", err)
	}
	return nil
}

// CreateBooking сохраняет новое бронирование и заполняет его идентификатор.
func (r *PostgresRepository) CreateBooking(ctx context.Context, b *model.Booking) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO bookings (user_id, hotel_id, room_type, check_in, check_out, nights, price_per_night, total, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		b.UserID, b.HotelID, b.RoomType, b.CheckIn, b.CheckOut, b.Nights, b.PricePerNight, b.Total, string(b.Status), b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: hotel %d", model.ErrNotFound, b.HotelID)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBooking возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return pgGetBooking(ctx, r.pool, id, false)
}

// GetBookingsByUser возвращает бронирования пользователя, новые первыми.
func (r *PostgresRepository) GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgBookingCols+`
		 FROM bookings b JOIN hotels h ON h.id = b.hotel_id
		 WHERE b.user_id = $1
		 ORDER BY b.created_at DESC, b.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := pgScanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPaymentsByUser возвращает платежи пользователя, новые первыми.
func (r *PostgresRepository) GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgPaymentCols+`
		 FROM payments
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := pgScanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLoyaltyHistory возвращает историю операций по бонусному счёту пользователя, новые первыми.
func (r *PostgresRepository) GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT lh.id, lh.loyalty_id, lh.type, lh.points, lh.description, lh.created_at
		 FROM loyalty_history lh
		 JOIN loyalty_accounts la ON la.id = lh.loyalty_id
		 WHERE la.user_id = $1
		 ORDER BY lh.created_at DESC, lh.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loyalty history: %w", err)
	}
	defer rows.Close()

	res := make([]model.LoyaltyHistoryEntry, 0)
	for rows.Next() {
		var (
			e       model.LoyaltyHistoryEntry
			typeStr string
		)
		if err := rows.Scan(&e.ID, &e.LoyaltyID, &typeStr, &e.Points, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan loyalty history: %w", err)
		}
		e.Type = model.LoyaltyHistoryType(typeStr)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetReviewsByUser возвращает отзывы пользователя, новые первыми.
func (r *PostgresRepository) GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, booking_id, hotel_id, user_id, rating, comment, created_at
		 FROM reviews
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	var res []model.Review
	for rows.Next() {
		var rv model.Review
		if err := rows.Scan(&rv.ID, &rv.BookingID, &rv.HotelID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		res = append(res, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func pgScanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.HotelID, &b.HotelName, &b.RoomType, &b.CheckIn, &b.CheckOut,
		&b.Nights, &b.PricePerNight, &b.Total, &status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}

func pgScanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		method string
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &method, &p.Details,
		&p.LoyaltyPointsUsed, &p.IdempotencyKey, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Method = model.PaymentMethod(method)
	return &p, nil
}

func pgGetBooking(ctx context.Context, q pgQuerier, id int64, forUpdate bool) (*model.Booking, error) {
	query := `SELECT ` + pgBookingCols + `
		 FROM bookings b JOIN hotels h ON h.id = b.hotel_id
		 WHERE b.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF b`
	}

	b, err := pgScanBooking(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// pgTx реализует Tx поверх pgx.Tx.
type pgTx struct {
	q pgQuerier
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	return pgGetBooking(ctx, t.q, id, true)
}

func (t *pgTx) MarkBookingPaid(ctx context.Context, id int64) (*model.Booking, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE bookings SET status = $2 WHERE id = $1`,
		id, string(model.BookingStatusPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
	}
	return pgGetBooking(ctx, t.q, id, false)
}

func (t *pgTx) PaymentExistsForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1)`,
		bookingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	p, err := pgScanPayment(t.q.QueryRow(ctx,
		`SELECT `+pgPaymentCols+` FROM payments WHERE idempotency_key = $1`,
		key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment with idempotency key %s", model.ErrNotFound, key)
		}
		return nil, fmt.Errorf("get payment by idempotency key: %w", err)
	}
	return p, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO payments (booking_id, user_id, amount, method, details, loyalty_points_used, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.BookingID, p.UserID, p.Amount, string(p.Method), p.Details, p.LoyaltyPointsUsed, p.IdempotencyKey, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == "payments_idempotency_key_key" {
				return fmt.Errorf("%w: %s", model.ErrIdempotencyConflict, *p.IdempotencyKey)
			}
			return fmt.Errorf("%w: booking %d", model.ErrDuplicatePayment, p.BookingID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) LockLoyaltyAccount(ctx context.Context, userID string) (*model.LoyaltyAccount, error) {
	_, err := t.q.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert loyalty account: %w", err)
	}

	var a model.LoyaltyAccount
	err = t.q.QueryRow(ctx,
		`SELECT id, user_id, points, available, total_earned, total_redeemed
		 FROM loyalty_accounts
		 WHERE user_id = $1
		 FOR UPDATE`,
		userID,
	).Scan(&a.ID, &a.UserID, &a.LifetimePoints, &a.Available, &a.TotalEarned, &a.TotalRedeemed)
	if err != nil {
		return nil, fmt.Errorf("lock loyalty account: %w", err)
	}
	return &a, nil
}

func (t *pgTx) UpdateLoyaltyAccount(ctx context.Context, a *model.LoyaltyAccount) error {
	_, err := t.q.Exec(ctx,
		`UPDATE loyalty_accounts
		 SET points = $2, available = $3, total_earned = $4, total_redeemed = $5
		 WHERE id = $1`,
		a.ID, a.LifetimePoints, a.Available, a.TotalEarned, a.TotalRedeemed,
	)
	if err != nil {
		return fmt.Errorf("update loyalty account: %w", err)
	}
	return nil
}

func (t *pgTx) AddLoyaltyHistory(ctx context.Context, e *model.LoyaltyHistoryEntry) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO loyalty_history (loyalty_id, type, points, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		e.LoyaltyID, string(e.Type), e.Points, e.Description, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert loyalty history: %w", err)
	}
	return nil
}

func (t *pgTx) ReviewExistsForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE booking_id = $1)`,
		bookingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check review exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CreateReview(ctx context.Context, rv *model.Review) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO reviews (booking_id, hotel_id, user_id, rating, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rv.BookingID, rv.HotelID, rv.UserID, rv.Rating, rv.Comment, rv.CreatedAt,
	).Scan(&rv.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: booking %d", model.ErrDuplicateReview, rv.BookingID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}
