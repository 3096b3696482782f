package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

const (
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteDateLayout = "2006-01-02"
)

const (
	sqliteBookingCols = `b.id, b.user_id, b.hotel_id, h.name, b.room_type, b.check_in, b.check_out,
		b.nights, b.price_per_night, b.total, b.status, b.created_at`
	sqlitePaymentCols = `id, booking_id, user_id, amount, method, details, loyalty_points_used, idempotency_key, created_at`
)

// sqliteQuerier покрывает общие методы *sql.DB и *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteRepository хранит данные во встроенной базе SQLite.
// Используется одно соединение, поэтому все транзакции выполняются строго последовательно.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает базу SQLite по указанному пути и применяет миграции.
// Путь ":memory:" создаёт базу в памяти, которая живёт до вызова Close.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	r := &SQLiteRepository{db: db}

	if err := r.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepository) runMigrations(ctx context.Context) error {
	_, err := migrate(ctx, goose.DialectSQLite3, r.db, "migrations/sqlite")
	return err
}

// Close закрывает базу данных.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// WithinTx выполняет fn в транзакции.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertHotel сохраняет копию записи каталога отелей.
func (r *SQLiteRepository) UpsertHotel(ctx context.Context, h *model.Hotel) error {
	if h.ID == 0 {
		res, err := r.db.ExecContext(ctx, `INSERT INTO hotels (name) VALUES (?)`, h.Name)
		if err != nil {
			return fmt.Errorf("insert hotel: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		h.ID = id
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hotels (id, name) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		h.ID, h.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert hotel: %w", err)
	}
	return nil
}

// CreateBooking сохраняет новое бронирование и заполняет его идентификатор.
func (r *SQLiteRepository) CreateBooking(ctx context.Context, b *model.Booking) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (user_id, hotel_id, room_type, check_in, check_out, nights, price_per_night, total, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.HotelID, b.RoomType,
		b.CheckIn.Format(sqliteDateLayout), b.CheckOut.Format(sqliteDateLayout),
		b.Nights, b.PricePerNight, b.Total, string(b.Status), formatSQLiteTime(b.CreatedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err, "FOREIGN KEY") {
			return fmt.Errorf("%w: hotel %d", model.ErrNotFound, b.HotelID)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	b.ID = id
	return nil
}

// GetBooking возвращает бронирование по идентификатору.
func (r *SQLiteRepository) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return sqliteGetBooking(ctx, r.db, id)
}

// GetBookingsByUser возвращает бронирования пользователя, новые первыми.
func (r *SQLiteRepository) GetBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteBookingCols+`
		 FROM bookings b JOIN hotels h ON h.id = b.hotel_id
		 WHERE b.user_id = ?
		 ORDER BY b.created_at DESC, b.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := sqliteScanBooking(rows)
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
func (r *SQLiteRepository) GetPaymentsByUser(ctx context.Context, userID string) ([]model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqlitePaymentCols+`
		 FROM payments
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := sqliteScanPayment(rows)
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
func (r *SQLiteRepository) GetLoyaltyHistory(ctx context.Context, userID string) ([]model.LoyaltyHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lh.id, lh.loyalty_id, lh.type, lh.points, lh.description, lh.created_at
		 FROM loyalty_history lh
		 JOIN loyalty_accounts la ON la.id = lh.loyalty_id
		 WHERE la.user_id = ?
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
			e         model.LoyaltyHistoryEntry
			typeStr   string
			createdAt sqliteTime
		)
		if err := rows.Scan(&e.ID, &e.LoyaltyID, &typeStr, &e.Points, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan loyalty history: %w", err)
		}
		e.Type = model.LoyaltyHistoryType(typeStr)
		e.CreatedAt = createdAt.Time
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetReviewsByUser возвращает отзывы пользователя, новые первыми.
func (r *SQLiteRepository) GetReviewsByUser(ctx context.Context, userID string) ([]model.Review, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, booking_id, hotel_id, user_id, rating, comment, created_at
		 FROM reviews
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	var res []model.Review
	for rows.Next() {
		var (
			rv        model.Review
			createdAt sqliteTime
		)
		if err := rows.Scan(&rv.ID, &rv.BookingID, &rv.HotelID, &rv.UserID, &rv.Rating, &rv.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		rv.CreatedAt = createdAt.Time
		res = append(res, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// sqliteTime читает время, сохранённое текстом, независимо от того,
// вернул ли драйвер строку или уже разобранное значение.
type sqliteTime struct {
	Time time.Time
}

func (t *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, sqliteDateLayout} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

// formatSQLiteTime форматирует время с фиксированной шириной, чтобы строки сортировались хронологически.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// isSQLiteConstraint сообщает, что err вызвана нарушением ограничения, текст которого содержит detail.
func isSQLiteConstraint(err error, detail string) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), detail)
}

func sqliteScanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b                 model.Booking
		status            string
		checkIn, checkOut sqliteTime
		createdAt         sqliteTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.HotelID, &b.HotelName, &b.RoomType, &checkIn, &checkOut,
		&b.Nights, &b.PricePerNight, &b.Total, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.CheckIn = checkIn.Time
	b.CheckOut = checkOut.Time
	b.CreatedAt = createdAt.Time
	return &b, nil
}

func sqliteScanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p         model.Payment
		method    string
		key       sql.NullString
		createdAt sqliteTime
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &method, &p.Details,
		&p.LoyaltyPointsUsed, &key, &createdAt)
	if err != nil {
		return nil, err
	}
	p.Method = model.PaymentMethod(method)
	if key.Valid {
		p.IdempotencyKey = &key.String
	}
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func sqliteGetBooking(ctx context.Context, q sqliteQuerier, id int64) (*model.Booking, error) {
	b, err := sqliteScanBooking(q.QueryRowContext(ctx,
		`SELECT `+sqliteBookingCols+`
		 FROM bookings b JOIN hotels h ON h.id = b.hotel_id
		 WHERE b.id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// sqliteTx реализует Tx поверх *sql.Tx. Явные блокировки строк не нужны:
// у базы одно соединение, и транзакции не пересекаются.
type sqliteTx struct {
	q sqliteQuerier
}

func (t *sqliteTx) GetBookingForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	return sqliteGetBooking(ctx, t.q, id)
}

func (t *sqliteTx) MarkBookingPaid(ctx context.Context, id int64) (*model.Booking, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE id = ?`,
		string(model.BookingStatusPaid), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: booking %d", model.ErrNotFound, id)
	}
	return sqliteGetBooking(ctx, t.q, id)
}

func (t *sqliteTx) PaymentExistsForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = ?)`,
		bookingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return exists, nil
}

func (t *sqliteTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	p, err := sqliteScanPayment(t.q.QueryRowContext(ctx,
		`SELECT `+sqlitePaymentCols+` FROM payments WHERE idempotency_key = ?`,
		key,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment with idempotency key %s", model.ErrNotFound, key)
		}
		return nil, fmt.Errorf("get payment by idempotency key: %w", err)
	}
	return p, nil
}

func (t *sqliteTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	var key sql.NullString
	if p.IdempotencyKey != nil {
		key = sql.NullString{String: *p.IdempotencyKey, Valid: true}
	}

	res, err := t.q.ExecContext(ctx,
		`INSERT INTO payments (booking_id, user_id, amount, method, details, loyalty_points_used, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.UserID, p.Amount, string(p.Method), p.Details, p.LoyaltyPointsUsed, key, formatSQLiteTime(p.CreatedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err, "payments.idempotency_key") {
			return fmt.Errorf("%w: %s", model.ErrIdempotencyConflict, key.String)
		}
		if isSQLiteConstraint(err, "payments.booking_id") {
			return fmt.Errorf("%w: booking %d", model.ErrDuplicatePayment, p.BookingID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	return nil
}

func (t *sqliteTx) LockLoyaltyAccount(ctx context.Context, userID string) (*model.LoyaltyAccount, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert loyalty account: %w", err)
	}

	var a model.LoyaltyAccount
	err = t.q.QueryRowContext(ctx,
		`SELECT id, user_id, points, available, total_earned, total_redeemed
		 FROM loyalty_accounts
		 WHERE user_id = ?`,
		userID,
	).Scan(&a.ID, &a.UserID, &a.LifetimePoints, &a.Available, &a.TotalEarned, &a.TotalRedeemed)
	if err != nil {
		return nil, fmt.Errorf("select loyalty account: %w", err)
	}
	return &a, nil
}

func (t *sqliteTx) UpdateLoyaltyAccount(ctx context.Context, a *model.LoyaltyAccount) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE loyalty_accounts
		 SET points = ?, available = ?, total_earned = ?, total_redeemed = ?
		 WHERE id = ?`,
		a.LifetimePoints, a.Available, a.TotalEarned, a.TotalRedeemed, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update loyalty account: %w", err)
	}
	return nil
}

func (t *sqliteTx) AddLoyaltyHistory(ctx context.Context, e *model.LoyaltyHistoryEntry) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO loyalty_history (loyalty_id, type, points, description, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.LoyaltyID, string(e.Type), e.Points, e.Description, formatSQLiteTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert loyalty history: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (t *sqliteTx) ReviewExistsForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE booking_id = ?)`,
		bookingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check review exists: %w", err)
	}
	return exists, nil
}

func (t *sqliteTx) CreateReview(ctx context.Context, rv *model.Review) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO reviews (booking_id, hotel_id, user_id, rating, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rv.BookingID, rv.HotelID, rv.UserID, rv.Rating, rv.Comment, formatSQLiteTime(rv.CreatedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err, "reviews.booking_id") {
			return fmt.Errorf("%w: booking %d", model.ErrDuplicateReview, rv.BookingID)
		}
		return fmt.Errorf("insert review: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rv.ID = id
	return nil
}
