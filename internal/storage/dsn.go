package storage

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
)

// Normalize rewrites a connection URL into the form the dialect's driver
// expects. Postgres URLs keep URL form with the postgresql scheme; MySQL URLs
// become a go-sql-driver DSN.
func Normalize(dialect, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch dialect {
	case DialectPostgres:
		if len(raw) >= len("postgres://") && strings.EqualFold(raw[:len("postgres://")], "postgres://") {
			return "postgresql://" + raw[len("postgres://"):], nil
		}
		return raw, nil
	case DialectMySQL:
		return mysqlDSN(raw)
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("mysql url has no host")
	}

	cfg := mysqldrv.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		switch key {
		case "tls":
			cfg.TLSConfig = values[0]
		case "parseTime":
			cfg.ParseTime = values[0] == "true"
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[key] = values[0]
		}
	}
	return cfg.FormatDSN(), nil
}

// withSSLMode requires an encrypted connection unless the URL chose a mode.
func withSSLMode(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return dsn
	}
	q.Set("sslmode", "require")
	u.RawQuery = q.Encode()
	return u.String()
}

// withMySQLTLS turns on TLS without certificate verification unless the DSN
// already carries a tls setting, and applies a dial timeout.
func withMySQLTLS(dsn string, timeout time.Duration) (*mysqldrv.Config, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if cfg.TLSConfig == "" {
		cfg.TLSConfig = "skip-verify"
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return mysqldrv.ParseDSN(cfg.FormatDSN())
}
