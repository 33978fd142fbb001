package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

const uniqueViolation = "23505"

// Repository is the PostgreSQL ledger store
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ ledger.Store = (*Repository)(nil)

const meterColumns = `account_number, balance, model, owner_id, created_at`

func scanMeter(row pgx.Row) (*db.Meter, error) {
	var m db.Meter
	var model string
	if err := row.Scan(&m.AccountNumber, &m.Balance, &model, &m.OwnerID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Model = db.MeterModel(model)
	return &m, nil
}

// GetMeter retrieves a meter by account number
func (r *Repository) GetMeter(ctx context.Context, accountNumber string) (*db.Meter, error) {
	query := `SELECT ` + meterColumns + ` FROM meters WHERE account_number = $1`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, accountNumber))
	if err != nil {
		return nil, notFound(err, "meter %q", accountNumber)
	}
	return m, nil
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	query := `
		SELECT id, email, name, installation_id, created_at
		FROM users
		WHERE id = $1
	`

	var u db.User
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.InstallationID, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user %s", id)
	}
	return &u, nil
}

const billColumns = `id, account_number, bill_date, balance, amount::float8, status, paid_at`

func scanBill(row pgx.Row) (*db.Bill, error) {
	var b db.Bill
	var status string
	if err := row.Scan(&b.ID, &b.AccountNumber, &b.Date, &b.Balance, &b.Amount, &status, &b.PaidAt); err != nil {
		return nil, err
	}
	b.Status = db.Status(status)
	return &b, nil
}

// GetBill retrieves a bill by id
func (r *Repository) GetBill(ctx context.Context, id uuid.UUID) (*db.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`

	b, err := scanBill(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "bill %s", id)
	}
	return b, nil
}

const prepayColumns = `id, account_number, prepay_date, balance, prepay, amount::float8, status, paid_at`

func scanPrepay(row pgx.Row) (*db.Prepay, error) {
	var p db.Prepay
	var status string
	if err := row.Scan(&p.ID, &p.AccountNumber, &p.Date, &p.Balance, &p.Prepay, &p.Amount, &status, &p.PaidAt); err != nil {
		return nil, err
	}
	p.Status = db.Status(status)
	return &p, nil
}

// GetPrepay retrieves a prepay by id
func (r *Repository) GetPrepay(ctx context.Context, id uuid.UUID) (*db.Prepay, error) {
	query := `SELECT ` + prepayColumns + ` FROM prepays WHERE id = $1`

	p, err := scanPrepay(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "prepay %s", id)
	}
	return p, nil
}

const readingColumns = `id, account_number, task_name, measure, consumption, human, read_at`

func scanReading(row pgx.Row) (*db.Reading, error) {
	var rd db.Reading
	if err := row.Scan(&rd.ID, &rd.AccountNumber, &rd.TaskName, &rd.Measure, &rd.Consumption, &rd.Human, &rd.Timestamp); err != nil {
		return nil, err
	}
	return &rd, nil
}

// ListReadings returns every reading of a meter, oldest first
func (r *Repository) ListReadings(ctx context.Context, accountNumber string) ([]db.Reading, error) {
	if _, err := r.GetMeter(ctx, accountNumber); err != nil {
		return nil, err
	}

	query := `SELECT ` + readingColumns + ` FROM readings WHERE account_number = $1 ORDER BY seq ASC`

	rows, err := r.pool.Query(ctx, query, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []db.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// ListBills returns the bills of a meter, optionally filtered by status
func (r *Repository) ListBills(ctx context.Context, accountNumber string, status db.Status) ([]db.Bill, error) {
	if _, err := r.GetMeter(ctx, accountNumber); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE account_number = $1 AND ($2 = '' OR status = $2)
		ORDER BY bill_date ASC
	`

	rows, err := r.pool.Query(ctx, query, accountNumber, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []db.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// ListPrepays returns the prepays of a meter, optionally filtered by status
func (r *Repository) ListPrepays(ctx context.Context, accountNumber string, status db.Status) ([]db.Prepay, error) {
	if _, err := r.GetMeter(ctx, accountNumber); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + prepayColumns + `
		FROM prepays
		WHERE account_number = $1 AND ($2 = '' OR status = $2)
		ORDER BY prepay_date ASC
	`

	rows, err := r.pool.Query(ctx, query, accountNumber, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query prepays: %w", err)
	}
	defer rows.Close()

	var out []db.Prepay
	for rows.Next() {
		p, err := scanPrepay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prepay: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// InsertBills inserts imported bills in a single transaction
func (r *Repository) InsertBills(ctx context.Context, bills []db.Bill) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range bills {
		queueBillInsert(batch, &bills[i])
	}
	results := tx.SendBatch(ctx, batch)
	for range bills {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return insertErr(err, "bill")
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func queueBillInsert(batch *pgx.Batch, b *db.Bill) {
	batch.Queue(`
		INSERT INTO bills (id, account_number, bill_date, balance, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.AccountNumber, b.Date, b.Balance, b.Amount, string(b.Status), b.PaidAt)
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// WithinMeter locks the meter row with SELECT ... FOR UPDATE and runs fn in the same transaction
func (r *Repository) WithinMeter(ctx context.Context, accountNumber string, fn func(tx ledger.MeterTx) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + meterColumns + ` FROM meters WHERE account_number = $1 FOR UPDATE`
	m, err := scanMeter(tx.QueryRow(ctx, query, accountNumber))
	if err != nil {
		return notFound(err, "meter %q", accountNumber)
	}

	if err := fn(&meterTx{tx: tx, meter: *m}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type meterTx struct {
	tx    pgx.Tx
	meter db.Meter
}

func (t *meterTx) Meter() db.Meter { return t.meter }

func (t *meterTx) LastReading(ctx context.Context) (*db.Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE account_number = $1
		ORDER BY seq DESC
		LIMIT 1
	`
	rd, err := scanReading(t.tx.QueryRow(ctx, query, t.meter.AccountNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last reading: %w", err)
	}
	return rd, nil
}

func (t *meterTx) ReadingForTask(ctx context.Context, taskName string) (*db.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE account_number = $1 AND task_name = $2`
	rd, err := scanReading(t.tx.QueryRow(ctx, query, t.meter.AccountNumber, taskName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reading for task: %w", err)
	}
	return rd, nil
}

func (t *meterTx) RecentConsumptions(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT consumption
		FROM readings
		WHERE account_number = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	rows, err := t.tx.Query(ctx, query, t.meter.AccountNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent consumptions: %w", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect consumptions: %w", err)
	}
	return values, nil
}

func (t *meterTx) Bill(ctx context.Context, id uuid.UUID) (*db.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1 AND account_number = $2 FOR UPDATE`
	b, err := scanBill(t.tx.QueryRow(ctx, query, id, t.meter.AccountNumber))
	if err != nil {
		return nil, notFound(err, "bill %s", id)
	}
	return b, nil
}

func (t *meterTx) Prepay(ctx context.Context, id uuid.UUID) (*db.Prepay, error) {
	query := `SELECT ` + prepayColumns + ` FROM prepays WHERE id = $1 AND account_number = $2 FOR UPDATE`
	p, err := scanPrepay(t.tx.QueryRow(ctx, query, id, t.meter.AccountNumber))
	if err != nil {
		return nil, notFound(err, "prepay %s", id)
	}
	return p, nil
}

func (t *meterTx) InsertReading(ctx context.Context, rd *db.Reading) error {
	if rd.ID == uuid.Nil {
		rd.ID = uuid.New()
	}
	rd.AccountNumber = t.meter.AccountNumber

	query := `
		INSERT INTO readings (id, account_number, task_name, measure, consumption, human, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query, rd.ID, rd.AccountNumber, rd.TaskName, rd.Measure, rd.Consumption, rd.Human, rd.Timestamp)
	if err != nil {
		return insertErr(err, "reading")
	}
	return nil
}

func (t *meterTx) InsertBill(ctx context.Context, b *db.Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.AccountNumber = t.meter.AccountNumber

	query := `
		INSERT INTO bills (id, account_number, bill_date, balance, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query, b.ID, b.AccountNumber, b.Date, b.Balance, b.Amount, string(b.Status), b.PaidAt)
	if err != nil {
		return insertErr(err, "bill")
	}
	return nil
}

func (t *meterTx) InsertPrepay(ctx context.Context, p *db.Prepay) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.AccountNumber = t.meter.AccountNumber

	query := `
		INSERT INTO prepays (id, account_number, prepay_date, balance, prepay, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, p.ID, p.AccountNumber, p.Date, p.Balance, p.Prepay, p.Amount, string(p.Status), p.PaidAt)
	if err != nil {
		return insertErr(err, "prepay")
	}
	return nil
}

func (t *meterTx) MarkBillPaid(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE bills SET status = 'Paid', paid_at = $1 WHERE id = $2 AND account_number = $3`
	tag, err := t.tx.Exec(ctx, query, time.Now(), id, t.meter.AccountNumber)
	if err != nil {
		return fmt.Errorf("failed to update bill status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (t *meterTx) MarkPrepayPaid(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE prepays SET status = 'Paid', paid_at = $1 WHERE id = $2 AND account_number = $3`
	tag, err := t.tx.Exec(ctx, query, time.Now(), id, t.meter.AccountNumber)
	if err != nil {
		return fmt.Errorf("failed to update prepay status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prepay %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (t *meterTx) AddBalance(ctx context.Context, delta int64) (int64, error) {
	query := `
		UPDATE meters
		SET balance = balance + $1
		WHERE account_number = $2
		RETURNING balance
	`
	var balance int64
	if err := t.tx.QueryRow(ctx, query, delta, t.meter.AccountNumber).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to update meter balance: %w", err)
	}
	t.meter.Balance = balance
	return balance, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ledger.ErrNotFound)...)
	}
	return fmt.Errorf("failed to query "+format+": %w", append(args, err)...)
}

func insertErr(err error, entity string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", entity, ledger.ErrAlreadyExists)
	}
	return fmt.Errorf("failed to insert %s: %w", entity, err)
}
