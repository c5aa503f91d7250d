package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// NetworkProber connects for real over an encrypted transport and runs a
// trivial query.
type NetworkProber struct{}

func (NetworkProber) Probe(ctx context.Context, dialect, dsn string) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	switch dialect {
	case DialectPostgres:
		return probePostgres(ctx, dsn, timeout)
	case DialectMySQL:
		return probeMySQL(ctx, dsn, timeout)
	default:
		return fmt.Errorf("cannot probe dialect %q", dialect)
	}
}

func probePostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	cfg, err := pgx.ParseConfig(withSSLMode(dsn))
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnectTimeout = timeout

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres select 1: %w", err)
	}
	return nil
}

func probeMySQL(ctx context.Context, dsn string, timeout time.Duration) error {
	cfg, err := withMySQLTLS(dsn, timeout)
	if err != nil {
		return err
	}
	connector, err := mysqldrv.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("mysql select 1: %w", err)
	}
	return nil
}
