package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRecordNotFound indicates the referenced spread record does not exist.
	ErrRecordNotFound = errors.New("storage: spread record not found")
)

const (
	spreadColumns = `id, market, value, recorded_at, active`

	insertSpreadSQL = `INSERT INTO spreads (
        market,
        value,
        recorded_at,
        active
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING ` + spreadColumns + `;`

	getLastSpreadSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE market = $1
    ORDER BY recorded_at DESC
    LIMIT 1;`

	listSpreadsSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE market = $1
    ORDER BY recorded_at DESC;`

	getSpreadByIDSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE id = $1;`

	listActiveSpreadsSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE market = $1
      AND active
    ORDER BY recorded_at DESC;`

	updateSpreadStatusSQL = `UPDATE spreads
    SET active = $2
    WHERE id = $1
    RETURNING ` + spreadColumns + `;`

	listRecentSpreadsSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE market = $1
    ORDER BY recorded_at DESC
    LIMIT $2;`

	listSpreadsBetweenSQL = `SELECT ` + spreadColumns + `
    FROM spreads
    WHERE market = $1
      AND recorded_at >= $2
      AND recorded_at < $3
    ORDER BY recorded_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SpreadRecordStore defines persistence operations for spread observations.
type SpreadRecordStore interface {
	Save(ctx context.Context, record SpreadRecord) (SpreadRecord, error)
	GetLast(ctx context.Context, market string) (*SpreadRecord, error)
	GetAll(ctx context.Context, market string) ([]SpreadRecord, error)
	GetByID(ctx context.Context, id int64) (*SpreadRecord, error)
	GetActiveForMarket(ctx context.Context, market string) ([]SpreadRecord, error)
	UpdateStatus(ctx context.Context, id int64, active bool) (SpreadRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists spread records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Save inserts a new spread record and returns it with the store-assigned id.
func (s *Store) Save(ctx context.Context, record SpreadRecord) (SpreadRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return SpreadRecord{}, err
	}

	row := pool.QueryRow(ctx, insertSpreadSQL,
		record.Market,
		record.Value.String(),
		record.RecordedAt,
		record.Active,
	)

	saved, err := scanSpread(row)
	if err != nil {
		return SpreadRecord{}, fmt.Errorf("save spread: %w", err)
	}
	return saved, nil
}

// GetLast returns the most recently recorded spread for a market, or nil.
func (s *Store) GetLast(ctx context.Context, market string) (*SpreadRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	record, err := scanSpread(pool.QueryRow(ctx, getLastSpreadSQL, market))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last spread: %w", err)
	}
	return &record, nil
}

// GetAll lists every recorded spread for a market, most recent first.
func (s *Store) GetAll(ctx context.Context, market string) ([]SpreadRecord, error) {
	return s.list(ctx, listSpreadsSQL, market)
}

// GetByID returns one spread record by id, or nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*SpreadRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	record, err := scanSpread(pool.QueryRow(ctx, getSpreadByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get spread by id: %w", err)
	}
	return &record, nil
}

// GetActiveForMarket lists active spreads for a market, most recent first.
func (s *Store) GetActiveForMarket(ctx context.Context, market string) ([]SpreadRecord, error) {
	return s.list(ctx, listActiveSpreadsSQL, market)
}

// UpdateStatus flips the active flag and returns the updated record.
func (s *Store) UpdateStatus(ctx context.Context, id int64, active bool) (SpreadRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return SpreadRecord{}, err
	}

	record, err := scanSpread(pool.QueryRow(ctx, updateSpreadStatusSQL, id, active))
	if errors.Is(err, pgx.ErrNoRows) {
		return SpreadRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return SpreadRecord{}, fmt.Errorf("update spread status: %w", err)
	}
	return record, nil
}

// ListRecent lists the latest records for a market up to a limit.
// Administrative read used by the show command, not part of the
// SpreadRecordStore contract.
func (s *Store) ListRecent(ctx context.Context, market string, limit int) ([]SpreadRecord, error) {
	return s.list(ctx, listRecentSpreadsSQL, market, limit)
}

// ListBetween lists records for a market within [from, to), oldest first.
// Administrative read used by the export command.
func (s *Store) ListBetween(ctx context.Context, market string, from, to time.Time) ([]SpreadRecord, error) {
	return s.list(ctx, listSpreadsBetweenSQL, market, from, to)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used to keep concurrent pollers from double-sampling.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]SpreadRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list spreads: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SpreadRecord, 0)
	for rows.Next() {
		record, scanErr := scanSpread(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpread(row rowScanner) (SpreadRecord, error) {
	var (
		record   SpreadRecord
		valueStr string
	)

	if err := row.Scan(
		&record.ID,
		&record.Market,
		&valueStr,
		&record.RecordedAt,
		&record.Active,
	); err != nil {
		return SpreadRecord{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return SpreadRecord{}, fmt.Errorf("parse spread value: %w", err)
	}
	record.Value = value

	return record, nil
}

var _ SpreadRecordStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
