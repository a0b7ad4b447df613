package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/chronoswap/chronoswap/storage"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ storage.OrderStorage = (*PostgresBackend)(nil)

func NewPostgresBackend(migrate bool, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("fail to create connection pool: %w", err)
	}

	backend := &PostgresBackend{pool: pool}

	if migrate {
		if err := backend.Migrate(dsn); err != nil {
			return nil, fmt.Errorf("fail to migrate database: %w", err)
		}
	}

	return backend, nil
}

func (p *PostgresBackend) Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("fail to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("fail to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("fail to run migrations: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
