package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	queryAnyAdmin = `SELECT EXISTS (SELECT 1 FROM profiles WHERE role = 'admin')`

	clientColumns = `id::text, name, cpf, COALESCE(email, ''), status, COALESCE(portal_token, '')`

	queryClientByID = `SELECT ` + clientColumns + ` FROM clients WHERE id::text = $1`

	queryClientByTaxID = `SELECT ` + clientColumns + ` FROM clients
		WHERE regexp_replace(cpf, '[^0-9]', '', 'g') = $1
		LIMIT 1`

	updatePortalToken = `UPDATE clients SET portal_token = $2, updated_at = now() WHERE id::text = $1`
)

type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: pool, pool: pool}, nil
}

// NewPostgresWithDB wraps an existing connection, mainly for tests.
func NewPostgresWithDB(db DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) AnyAdminExists(ctx context.Context) (bool, error) {
	var exists bool
	if err := p.db.QueryRow(ctx, queryAnyAdmin).Scan(&exists); err != nil {
		return false, fmt.Errorf("query admin existence: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ClientByID(ctx context.Context, id string) (*Client, error) {
	return p.queryClient(ctx, queryClientByID, id)
}

func (p *Postgres) ClientByTaxID(ctx context.Context, taxID string) (*Client, error) {
	return p.queryClient(ctx, queryClientByTaxID, digits(taxID))
}

func (p *Postgres) queryClient(ctx context.Context, sql, arg string) (*Client, error) {
	var (
		c      Client
		status string
	)
	err := p.db.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.Name, &c.TaxID, &c.Email, &status, &c.PortalToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}
	c.Status = ClientStatus(status)
	return &c, nil
}

func (p *Postgres) SetPortalToken(ctx context.Context, id, token string) error {
	tag, err := p.db.Exec(ctx, updatePortalToken, id, token)
	if err != nil {
		return fmt.Errorf("update portal token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
