package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/sentinel"
	txcontext "ttkn/pkg/platform/tx"
)

var lockWaitDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ttkn_ledger_pg_lock_wait_duration_ms",
	Help:    "Time spent waiting for the ledger advisory lock in milliseconds",
	Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
})

// defaultLockKey is the advisory lock that serializes ledger transitions.
const defaultLockKey int64 = 0x7474_6b6e

// Store keeps the ledger in Postgres. Every transition takes the same
// transaction-scoped advisory lock first, so transitions run one at a time and
// each statement sees every earlier commit. Views run in a read-only
// repeatable-read transaction.
type Store struct {
	db      *sql.DB
	lockKey int64
}

type Option func(*Store)

// WithLockKey overrides the advisory lock key, for running several ledgers
// in one database.
func WithLockKey(key int64) Option {
	return func(s *Store) {
		s.lockKey = key
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, lockKey: defaultLockKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	sqlTx, err := s.begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	start := time.Now()
	if _, err := sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	lockWaitDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	if err := fn(&txn{reader: reader{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(r service.Reader) error) error {
	sqlTx, err := s.begin(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(reader{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) begin(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: begin ledger tx: %v", sentinel.ErrUnavailable, err)
	}
	return sqlTx, nil
}

type reader struct {
	q txcontext.Executor
}

func (r reader) Owner(ctx context.Context) (domain.Account, error) {
	var owner string
	err := r.q.QueryRowContext(ctx, `SELECT owner FROM ledger_meta WHERE id = 1`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("query owner: %w", err)
	}
	account, err := domain.ParseAccount(owner)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: stored owner %q: %v", sentinel.ErrInvalidState, owner, err)
	}
	return account, nil
}

func (r reader) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return r.amount(ctx, `SELECT total_supply::text FROM ledger_meta WHERE id = 1`)
}

func (r reader) BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	return r.amount(ctx, `SELECT balance::text FROM ledger_accounts WHERE account = $1`, account.Key())
}

func (r reader) MintedOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	return r.amount(ctx, `SELECT minted::text FROM ledger_accounts WHERE account = $1`, account.Key())
}

// amount scans a single NUMERIC column rendered as text. Missing rows read as zero.
func (r reader) amount(ctx context.Context, query string, args ...any) (*uint256.Int, error) {
	var text string
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query amount: %w", err)
	}
	return parseAmount(text)
}

func (r reader) IsRecipient(ctx context.Context, account domain.Account) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_recipients WHERE account = $1)`, account.Key()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query recipient: %w", err)
	}
	return exists, nil
}

func (r reader) RecipientCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM ledger_recipients`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return uint64(count), nil
}

func (r reader) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()

	kinds := []string{string(models.EventPersonAdded), string(models.EventTokensMinted)}
	if filter.Kind != "" {
		kinds = []string{string(filter.Kind)}
	}
	var account sql.NullString
	if filter.Account != nil {
		account = sql.NullString{String: filter.Account.Key(), Valid: true}
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, transition_id, kind, account, amount::text, total_minted::text, person_count, created_at
		FROM ledger_events
		WHERE seq > $1
		  AND ($2::text IS NULL OR account = $2)
		  AND kind = ANY($3::text[])
		ORDER BY seq ASC
		LIMIT $4
	`, int64(filter.AfterSeq), account, pq.Array(kinds), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			e           models.Event
			seq, count  int64
			transition  uuid.UUID
			kind, owner string
			amount      string
			totalMinted string
		)
		if err := rows.Scan(&seq, &transition, &kind, &owner, &amount, &totalMinted, &count, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.TransitionID = transition
		e.Kind = models.EventKind(kind)
		e.PersonCount = uint64(count)
		e.Timestamp = e.Timestamp.UTC()
		if e.Account, err = domain.ParseAccount(owner); err != nil {
			return nil, fmt.Errorf("%w: stored event account %q", sentinel.ErrInvalidState, owner)
		}
		a, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		tm, err := parseAmount(totalMinted)
		if err != nil {
			return nil, err
		}
		e.Amount, e.TotalMinted = *a, *tm
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// txn writes straight into the SQL transaction; reads on the same
// transaction already observe those writes.
type txn struct {
	reader
}

func (t *txn) SetOwner(ctx context.Context, owner domain.Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_meta (id, owner) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner
	`, owner.Key())
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return nil
}

func (t *txn) SetTotalSupply(ctx context.Context, supply *uint256.Int) error {
	res, err := t.q.ExecContext(ctx, `UPDATE ledger_meta SET total_supply = $1::numeric WHERE id = 1`, supply.Dec())
	if err != nil {
		return fmt.Errorf("set total supply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (t *txn) SetBalance(ctx context.Context, account domain.Account, balance *uint256.Int) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance
	`, account.Key(), balance.Dec())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (t *txn) SetMinted(ctx context.Context, account domain.Account, minted *uint256.Int) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, minted) VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET minted = EXCLUDED.minted
	`, account.Key(), minted.Dec())
	if err != nil {
		return fmt.Errorf("set minted: %w", err)
	}
	return nil
}

func (t *txn) AddRecipient(ctx context.Context, account domain.Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_recipients (account) VALUES ($1)
		ON CONFLICT (account) DO NOTHING
	`, account.Key())
	if err != nil {
		return fmt.Errorf("add recipient: %w", err)
	}
	return nil
}

func (t *txn) AppendEvents(ctx context.Context, events ...models.Event) ([]models.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	var last int64
	err := t.q.QueryRowContext(ctx,
		`UPDATE ledger_meta SET last_seq = last_seq + $1 WHERE id = 1 RETURNING last_seq`,
		len(events)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reserve event sequence: %w", err)
	}

	stored := make([]models.Event, 0, len(events))
	next := uint64(last) - uint64(len(events))
	for _, e := range events {
		next++
		e.Seq = next
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO ledger_events (seq, transition_id, kind, account, amount, total_minted, person_count, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
		`, int64(e.Seq), e.TransitionID, string(e.Kind), e.Account.Key(),
			e.Amount.Dec(), e.TotalMinted.Dec(), int64(e.PersonCount), e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		stored = append(stored, e)
	}
	return stored, nil
}

func parseAmount(text string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(text)
	if err != nil {
		return nil, fmt.Errorf("%w: stored amount %q: %v", sentinel.ErrInvalidState, text, err)
	}
	return v, nil
}

var (
	_ service.Store = (*Store)(nil)
	_ service.Tx    = (*txn)(nil)
)
