// Package postgres backs the stock strategies with a PostgreSQL table.
//
// Schema expected by this package:
//
//	CREATE TABLE stock_counters (
//	    id             BIGINT PRIMARY KEY,
//	    available      BIGINT NOT NULL CHECK (available >= 0),
//	    version        BIGINT NOT NULL DEFAULT 0,
//	    limit_per_user BIGINT NOT NULL DEFAULT 0,
//	    warmable       BOOLEAN NOT NULL DEFAULT TRUE
//	);
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/stock"
)

// Backing implements stock.Backing on a pgx connection pool. Deduction is a
// single conditional UPDATE, so the database serializes concurrent attempts
// and the available check and the subtraction are one atomic statement.
type Backing struct {
	pool *pgxpool.Pool
	log  logging.Logger
	own  bool
}

var _ stock.Backing = (*Backing)(nil)

type Config struct {
	// DSN is a pgx connection string. Ignored when Pool is set.
	DSN string
	// Pool is an existing pool to reuse; the caller keeps ownership.
	Pool        *pgxpool.Pool
	Logger      logging.Logger
	ConnTimeout time.Duration
}

func New(ctx context.Context, cfg Config) (*Backing, error) {
	log := logging.OrNop(cfg.Logger)
	if cfg.Pool != nil {
		return &Backing{pool: cfg.Pool, log: log}, nil
	}
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn or pool is required")
	}
	if cfg.ConnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnTimeout)
		defer cancel()
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Backing{pool: pool, log: log, own: true}, nil
}

func (b *Backing) LoadByID(ctx context.Context, id int64) (stock.Record, bool, error) {
	var rec stock.Record
	err := b.pool.QueryRow(ctx,
		`SELECT id, available, version, limit_per_user
		   FROM stock_counters WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Available, &rec.Version, &rec.LimitPerUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return stock.Record{}, false, nil
	}
	if err != nil {
		return stock.Record{}, false, err
	}
	return rec, true, nil
}

func (b *Backing) DeductStock(ctx context.Context, id, qty int64) (bool, error) {
	tag, err := b.pool.Exec(ctx,
		`UPDATE stock_counters
		    SET available = available - $2, version = version + 1
		  WHERE id = $1 AND available >= $2`, id, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (b *Backing) RestoreStock(ctx context.Context, id, qty int64) (bool, error) {
	tag, err := b.pool.Exec(ctx,
		`UPDATE stock_counters
		    SET available = available + $2, version = version + 1
		  WHERE id = $1`, id, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (b *Backing) ListStocks(ctx context.Context) ([]stock.Record, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, available, version, limit_per_user
		   FROM stock_counters WHERE warmable ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.Record
	for rows.Next() {
		var rec stock.Record
		if err := rows.Scan(&rec.ID, &rec.Available, &rec.Version, &rec.LimitPerUser); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the pool when this package created it.
func (b *Backing) Close() {
	if b.own {
		b.pool.Close()
	}
}
