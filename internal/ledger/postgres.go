package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists accounts and transfer records in PostgreSQL. Balance
// predicates are evaluated by the database inside the UPDATE itself, so the
// read-check-write sequence of ConditionalAdjust is indivisible under
// concurrent requests.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Begin opens a unit of work. Both legs of a transfer (or a reversal) run
// inside one Tx so they commit or abort together.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// querier abstracts pool vs transaction execution; both pgxpool.Pool and
// pgx.Tx satisfy it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) within(tx Tx) querier {
	if t, ok := tx.(*pgTx); ok && t != nil {
		return t.tx
	}
	return s.db
}

const accountColumns = `id, owner_id, name, currency, is_active,
    available_balance::text, total_deposits::text, total_withdrawals::text,
    created_at, updated_at`

// CreateAccount inserts an account record. Provisioning normally happens in the
// wider practice-management system; this path serves tooling and tests.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts
        (id, owner_id, name, currency, is_active, available_balance, total_deposits, total_withdrawals, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $9)`,
		account.ID, account.OwnerID, account.Name, account.Currency, account.IsActive,
		account.AvailableBalance.String(), account.TotalDeposits.String(), account.TotalWithdrawals.String(),
		account.CreatedAt.UTC())
	return err
}

// FindAccount fetches the committed state of an account.
func (s *PostgresStore) FindAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return account, err
}

// ConditionalAdjust applies a predicate-guarded balance mutation as a single
// statement. The source row is locked and the predicate is evaluated against
// its pre-mutation image, which is also what gets returned to the caller.
func (s *PostgresStore) ConditionalAdjust(ctx context.Context, tx Tx, accountID string, cond Condition, delta Delta) (Account, error) {
	q := s.within(tx)

	var minBalance any
	if cond.MinBalance != nil {
		minBalance = cond.MinBalance.String()
	}

	row := q.QueryRow(ctx, `
        WITH prev AS (
            SELECT id, owner_id, name, currency, is_active,
                   available_balance, total_deposits, total_withdrawals,
                   created_at, updated_at
            FROM accounts
            WHERE id = $1
            FOR UPDATE
        )
        UPDATE accounts a
        SET available_balance = a.available_balance + $2::numeric,
            total_deposits    = a.total_deposits    + $3::numeric,
            total_withdrawals = a.total_withdrawals + $4::numeric,
            updated_at        = now()
        FROM prev
        WHERE a.id = prev.id
          AND (NOT $5::boolean OR prev.is_active)
          AND ($6::numeric IS NULL OR prev.available_balance >= $6::numeric)
        RETURNING prev.id, prev.owner_id, prev.name, prev.currency, prev.is_active,
                  prev.available_balance::text, prev.total_deposits::text, prev.total_withdrawals::text,
                  prev.created_at, prev.updated_at`,
		accountID, delta.Balance.String(), delta.Deposits.String(), delta.Withdrawals.String(),
		cond.RequireActive, minBalance)

	account, err := scanAccount(row)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, err
	}

	// No row updated: distinguish a missing account from a failed predicate.
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return Account{}, err
	}
	if !exists {
		return Account{}, ErrAccountNotFound
	}
	return Account{}, ErrConditionFailed
}

const transferColumns = `id, from_account_id, to_account_id,
    amount::text, fee::text, exchange_rate::text,
    from_currency, to_currency, reference, description, status,
    executed_at, created_by, created_at,
    cancelled_at, cancelled_by, cancellation_reason`

// InsertTransfer persists a transfer record, normally inside the same unit of
// work as its two balance legs.
func (s *PostgresStore) InsertTransfer(ctx context.Context, tx Tx, transfer Transfer) error {
	q := s.within(tx)
	_, err := q.Exec(ctx, `INSERT INTO transfers
        (id, from_account_id, to_account_id, amount, fee, exchange_rate,
         from_currency, to_currency, reference, description, status,
         executed_at, created_by, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14)`,
		transfer.ID, transfer.FromAccountID, transfer.ToAccountID,
		transfer.Amount.String(), transfer.Fee.String(), transfer.ExchangeRate.String(),
		transfer.FromCurrency, transfer.ToCurrency, transfer.Reference, transfer.Description,
		transfer.Status, transfer.ExecutedAt.UTC(), transfer.CreatedBy, transfer.CreatedAt.UTC())
	return err
}

// FindTransfer fetches a transfer record by identifier.
func (s *PostgresStore) FindTransfer(ctx context.Context, id string) (Transfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	transfer, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, err
}

// MarkCancelled flips status completed -> cancelled in one conditional write.
// The WHERE clause is the predicate: only one of any number of concurrent
// cancellations finds the row still completed.
func (s *PostgresStore) MarkCancelled(ctx context.Context, transferID, actor, reason string, at time.Time) (Transfer, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE transfers
        SET status = $4, cancelled_at = $2, cancelled_by = $3, cancellation_reason = $5
        WHERE id = $1 AND status = $6 AND created_by = $3
        RETURNING `+transferColumns,
		transferID, at.UTC(), actor, StatusCancelled, reason, StatusCompleted)

	transfer, err := scanTransfer(row)
	if err == nil {
		return transfer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, err
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfers WHERE id = $1)`, transferID).Scan(&exists); err != nil {
		return Transfer{}, err
	}
	if !exists {
		return Transfer{}, ErrTransferNotFound
	}
	return Transfer{}, ErrConditionFailed
}

// ListTransfers returns a page of records sorted by execution date descending,
// then creation time descending, plus the unpaginated total.
func (s *PostgresStore) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int64, error) {
	where, args := transferWhere(filter)

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT %s FROM transfers%s ORDER BY executed_at DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		transferColumns, where, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transfers := make([]Transfer, 0, limit)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, total, rows.Err()
}

// TransferStats aggregates completed transfers and builds the trailing
// twelve-month series. Status is always read live, so a cancellation removes
// the record from every subsequent aggregation.
func (s *PostgresStore) TransferStats(ctx context.Context, filter StatsFilter) (Stats, error) {
	where, args := statsWhere(filter)

	var (
		stats                  Stats
		totalAmount, totalFees string
		averageAmount          string
	)
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(amount), 0)::text,
               COALESCE(SUM(fee), 0)::text,
               COALESCE(AVG(amount), 0)::text
        FROM transfers`+where, args...).Scan(&stats.Count, &totalAmount, &totalFees, &averageAmount)
	if err != nil {
		return Stats{}, err
	}
	if stats.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return Stats{}, err
	}
	if stats.TotalFees, err = decimal.NewFromString(totalFees); err != nil {
		return Stats{}, err
	}
	if stats.AverageAmount, err = decimal.NewFromString(averageAmount); err != nil {
		return Stats{}, err
	}

	stats.Monthly, err = s.monthlySeries(ctx, filter)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) monthlySeries(ctx context.Context, filter StatsFilter) ([]MonthBucket, error) {
	now := time.Now().UTC()
	seriesStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)

	monthFilter := filter
	if monthFilter.StartDate.IsZero() || monthFilter.StartDate.Before(seriesStart) {
		monthFilter.StartDate = seriesStart
	}
	where, args := statsWhere(monthFilter)

	query := fmt.Sprintf(`
        SELECT date_trunc('month', executed_at), COUNT(*), SUM(amount)::text, SUM(fee)::text
        FROM transfers%s
        GROUP BY 1
        ORDER BY 1`, where)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMonth := make(map[string]MonthBucket)
	for rows.Next() {
		var (
			month        time.Time
			bucket       MonthBucket
			amount, fees string
		)
		if err := rows.Scan(&month, &bucket.Count, &amount, &fees); err != nil {
			return nil, err
		}
		if bucket.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if bucket.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, err
		}
		bucket.Year, bucket.Month = month.Year(), month.Month()
		byMonth[month.Format("2006-01")] = bucket
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fillMonthlySeries(byMonth, now), nil
}

// fillMonthlySeries produces the most recent twelve calendar months in
// chronological order, zero-filling months without activity.
func fillMonthlySeries(byMonth map[string]MonthBucket, now time.Time) []MonthBucket {
	series := make([]MonthBucket, 0, 12)
	cursor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
	for i := 0; i < 12; i++ {
		key := cursor.Format("2006-01")
		bucket, ok := byMonth[key]
		if !ok {
			bucket = MonthBucket{
				Year:   cursor.Year(),
				Month:  cursor.Month(),
				Amount: decimal.Zero,
				Fees:   decimal.Zero,
			}
		}
		series = append(series, bucket)
		cursor = cursor.AddDate(0, 1, 0)
	}
	return series
}

func transferWhere(filter TransferFilter) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.CreatedBy != "" {
		add("created_by = $%d", filter.CreatedBy)
	}
	if filter.FromAccountID != "" {
		add("from_account_id = $%d", filter.FromAccountID)
	}
	if filter.ToAccountID != "" {
		add("to_account_id = $%d", filter.ToAccountID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.StartDate.IsZero() {
		add("executed_at >= $%d", filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		add("executed_at <= $%d", filter.EndDate.UTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func statsWhere(filter StatsFilter) (string, []any) {
	clauses := []string{"status = $1"}
	args := []any{StatusCompleted}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.CreatedBy != "" {
		add("created_by = $%d", filter.CreatedBy)
	}
	if filter.AccountID != "" {
		add("(from_account_id = $%d OR to_account_id = $%[1]d)", filter.AccountID)
	}
	if !filter.StartDate.IsZero() {
		add("executed_at >= $%d", filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		add("executed_at <= $%d", filter.EndDate.UTC())
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account                        Account
		balance, deposits, withdrawals string
	)
	if err := row.Scan(&account.ID, &account.OwnerID, &account.Name, &account.Currency, &account.IsActive,
		&balance, &deposits, &withdrawals, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return Account{}, err
	}
	var err error
	if account.AvailableBalance, err = decimal.NewFromString(balance); err != nil {
		return Account{}, err
	}
	if account.TotalDeposits, err = decimal.NewFromString(deposits); err != nil {
		return Account{}, err
	}
	if account.TotalWithdrawals, err = decimal.NewFromString(withdrawals); err != nil {
		return Account{}, err
	}
	return account, nil
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		transfer                  Transfer
		amount, fee, rate         string
		cancelledBy, cancelReason *string
	)
	if err := row.Scan(&transfer.ID, &transfer.FromAccountID, &transfer.ToAccountID,
		&amount, &fee, &rate,
		&transfer.FromCurrency, &transfer.ToCurrency, &transfer.Reference, &transfer.Description,
		&transfer.Status, &transfer.ExecutedAt, &transfer.CreatedBy, &transfer.CreatedAt,
		&transfer.CancelledAt, &cancelledBy, &cancelReason); err != nil {
		return Transfer{}, err
	}
	var err error
	if transfer.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transfer{}, err
	}
	if transfer.Fee, err = decimal.NewFromString(fee); err != nil {
		return Transfer{}, err
	}
	if transfer.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return Transfer{}, err
	}
	if cancelledBy != nil {
		transfer.CancelledBy = *cancelledBy
	}
	if cancelReason != nil {
		transfer.CancellationReason = *cancelReason
	}
	return transfer, nil
}
