// Package storage provides the persistent catalog of short links: a
// narrow get/load-all/upsert/delete/batch surface plus the additive click
// sink, backed by Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penshort/shortlinker/internal/apperr"
	"github.com/penshort/shortlinker/internal/model"
)

// Sentinel errors for link storage operations.
var (
	ErrNotFound      = errors.New("short link not found")
	ErrAlreadyExists = errors.New("code already exists")
)

// ClickUpdate is one additive click delta for a single code, as handed to
// FlushClicks by the click manager.
type ClickUpdate struct {
	Code  string
	Delta int64
}

// Store is the storage façade the rest of the server depends on. Concrete
// backends implement this without leaking engine-specific errors —
// Postgres errors are mapped to the sentinels above (and further to apperr
// codes) at this boundary.
type Store interface {
	Get(ctx context.Context, code string) (*model.ShortLink, error)
	LoadAll(ctx context.Context) (map[string]*model.ShortLink, error)
	Upsert(ctx context.Context, link *model.ShortLink) error
	Remove(ctx context.Context, code string) error
	BatchGet(ctx context.Context, codes []string) (map[string]*model.ShortLink, error)
	BatchSet(ctx context.Context, links []*model.ShortLink) error
	BatchRemove(ctx context.Context, codes []string) (found []string, notFound []string, err error)
	FlushClicks(ctx context.Context, updates []ClickUpdate) error
	// Reload is an extensibility point invoked by the reload coordinator
	// before LoadAll; most backends treat it as a no-op.
	Reload(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Postgres is the Store implementation backed by a pgx connection pool.
type Postgres struct {
	pool  *pgxpool.Pool
	retry RetryConfig
}

// New creates a Postgres-backed Store.
func New(ctx context.Context, databaseURL string, retry RetryConfig) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool, retry: retry}, nil
}

// Pool returns the underlying connection pool. Used sparingly, by the
// runtime-config store; the health checker goes through Ping.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Reload is a no-op for Postgres; backends that hold state worth
// refreshing before a LoadAll hook in here.
func (p *Postgres) Reload(ctx context.Context) error {
	return nil
}

// Get retrieves a link by code. Returns ErrNotFound if absent.
func (p *Postgres) Get(ctx context.Context, code string) (*model.ShortLink, error) {
	const query = `
		SELECT id, code, target, created_at, expires_at, password_hash, click_count
		FROM short_links
		WHERE code = $1
	`
	var link *model.ShortLink
	err := withRetry(ctx, p.retry, "storage.get", func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, query, code)
		l, scanErr := scanLink(row)
		if scanErr != nil {
			return scanErr
		}
		link = l
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapPgError(err, "get link")
	}
	return link, nil
}

// LoadAll returns every registered link, keyed by code. Used at startup and
// by the reload coordinator.
func (p *Postgres) LoadAll(ctx context.Context) (map[string]*model.ShortLink, error) {
	const query = `
		SELECT id, code, target, created_at, expires_at, password_hash, click_count
		FROM short_links
	`
	result := make(map[string]*model.ShortLink)
	err := withRetry(ctx, p.retry, "storage.load_all", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			link, err := scanLink(rows)
			if err != nil {
				return err
			}
			result[link.Code] = link
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapPgError(err, "load all links")
	}
	return result, nil
}

// Upsert creates or replaces a link by code, atomically.
func (p *Postgres) Upsert(ctx context.Context, link *model.ShortLink) error {
	const query = `
		INSERT INTO short_links (id, code, target, created_at, expires_at, password_hash, click_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			target = EXCLUDED.target,
			expires_at = EXCLUDED.expires_at,
			password_hash = EXCLUDED.password_hash
	`
	err := withRetry(ctx, p.retry, "storage.upsert", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, query,
			link.ID, link.Code, link.Target, link.CreatedAt, link.ExpiresAt, link.PasswordHash, link.Click,
		)
		return err
	})
	if err != nil {
		return mapPgError(err, "upsert link")
	}
	return nil
}

// Remove deletes a link by code. Returns ErrNotFound if it did not exist.
func (p *Postgres) Remove(ctx context.Context, code string) error {
	const query = `DELETE FROM short_links WHERE code = $1`
	var affected int64
	err := withRetry(ctx, p.retry, "storage.remove", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, query, code)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return mapPgError(err, "remove link")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchGet retrieves several codes in one round trip.
func (p *Postgres) BatchGet(ctx context.Context, codes []string) (map[string]*model.ShortLink, error) {
	if len(codes) == 0 {
		return map[string]*model.ShortLink{}, nil
	}
	const query = `
		SELECT id, code, target, created_at, expires_at, password_hash, click_count
		FROM short_links
		WHERE code = ANY($1)
	`
	result := make(map[string]*model.ShortLink, len(codes))
	err := withRetry(ctx, p.retry, "storage.batch_get", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, query, codes)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			link, err := scanLink(rows)
			if err != nil {
				return err
			}
			result[link.Code] = link
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapPgError(err, "batch get links")
	}
	return result, nil
}

// BatchSet upserts several links in one transaction.
func (p *Postgres) BatchSet(ctx context.Context, links []*model.ShortLink) error {
	if len(links) == 0 {
		return nil
	}
	return withRetry(ctx, p.retry, "storage.batch_set", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		const query = `
			INSERT INTO short_links (id, code, target, created_at, expires_at, password_hash, click_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (code) DO UPDATE SET
				target = EXCLUDED.target,
				expires_at = EXCLUDED.expires_at,
				password_hash = EXCLUDED.password_hash
		`
		for _, link := range links {
			if _, err := tx.Exec(ctx, query,
				link.ID, link.Code, link.Target, link.CreatedAt, link.ExpiresAt, link.PasswordHash, link.Click,
			); err != nil {
				return fmt.Errorf("batch set %q: %w", link.Code, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		return nil
	})
}

// BatchRemove deletes several codes, reporting which existed.
func (p *Postgres) BatchRemove(ctx context.Context, codes []string) ([]string, []string, error) {
	if len(codes) == 0 {
		return nil, nil, nil
	}
	const query = `DELETE FROM short_links WHERE code = ANY($1) RETURNING code`
	var found []string
	err := withRetry(ctx, p.retry, "storage.batch_remove", func(ctx context.Context) error {
		found = nil
		rows, err := p.pool.Query(ctx, query, codes)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				return err
			}
			found = append(found, code)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, mapPgError(err, "batch remove links")
	}

	foundSet := make(map[string]bool, len(found))
	for _, c := range found {
		foundSet[c] = true
	}
	var notFound []string
	for _, c := range codes {
		if !foundSet[c] {
			notFound = append(notFound, c)
		}
	}
	return found, notFound, nil
}

// FlushClicks applies each (code, delta) as an additive update in a single
// transaction. A per-row failure does not abort the rows that already
// succeeded in the same transaction.
func (p *Postgres) FlushClicks(ctx context.Context, updates []ClickUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return withRetry(ctx, p.retry, "storage.flush_clicks", func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		const query = `UPDATE short_links SET click_count = click_count + $2 WHERE code = $1`
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(query, u.Code, u.Delta)
		}

		results := tx.SendBatch(ctx, batch)
		for range updates {
			if _, err := results.Exec(); err != nil {
				// best-effort: a single row's failure does not abort the batch.
				continue
			}
		}
		if err := results.Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func scanLink(row pgx.Row) (*model.ShortLink, error) {
	var link model.ShortLink
	var passwordHash *string
	err := row.Scan(&link.ID, &link.Code, &link.Target, &link.CreatedAt, &link.ExpiresAt, &passwordHash, &link.Click)
	if err != nil {
		return nil, err
	}
	link.PasswordHash = passwordHash
	return &link, nil
}

// mapPgError maps Postgres driver errors into the storage sentinels and, by
// extension, apperr codes — never leaking *pgconn.PgError to callers.
func mapPgError(err error, context string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.AlreadyExists, context, ErrAlreadyExists)
		case "08000", "08003", "08006", "08001", "08004": // connection class
			return apperr.Wrap(apperr.StorageTransient, context, err)
		default:
			return apperr.Wrap(apperr.StorageLogical, context, err)
		}
	}
	if isTimeoutOrPoolErr(err) {
		return apperr.Wrap(apperr.StorageTransient, context, err)
	}
	return fmt.Errorf("%s: %w", context, err)
}

func isTimeoutOrPoolErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "acquire") || strings.Contains(msg, "timeout") || strings.Contains(msg, "closed pool")
}
