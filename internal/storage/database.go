package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gamiai/internal/models"
)

// Open connects to the selected backend and pings it. The embedded database
// uses a single shared connection so it can be used from any goroutine.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(
			zap.NewStdLog(logger.Named("gorm")),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}

	var (
		sqlDB     *sql.DB
		dialector gorm.Dialector
		err       error
	)

	switch backend.Dialect {
	case DialectSQLite:
		sqlDB, err = openSQLite(backend.DSN)
		if err != nil {
			return nil, err
		}
		dialector = &sqlite.Dialector{Conn: sqlDB}
	case DialectPostgres:
		cfg, err := pgx.ParseConfig(withSSLMode(backend.DSN))
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		sqlDB = stdlib.OpenDB(*cfg)
		configureNetworkedPool(sqlDB)
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case DialectMySQL:
		cfg, err := withMySQLTLS(backend.DSN, 0)
		if err != nil {
			return nil, err
		}
		dialector = gormmysql.New(gormmysql.Config{DSN: cfg.FormatDSN()})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", backend.Dialect)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("open %s database: %w", backend.Dialect, err)
	}
	if sqlDB == nil {
		if sqlDB, err = db.DB(); err != nil {
			return nil, fmt.Errorf("mysql pool: %w", err)
		}
		configureNetworkedPool(sqlDB)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must be provided")
	}
	dsn := "file::memory:?_foreign_keys=on"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func configureNetworkedPool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

// Migrate ensures the required tables are present. It is safe to call on
// every start.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&models.Profile{}, &models.Message{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks the connection is still usable.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
