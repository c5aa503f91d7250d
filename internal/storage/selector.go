package storage

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind separates the embedded file database from a networked server.
type Kind string

const (
	KindEmbedded  Kind = "embedded"
	KindNetworked Kind = "networked"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Backend is the persistence decision made once at startup. It is a value
// type and is never re-evaluated while the process runs.
type Backend struct {
	Kind    Kind
	Dialect string
	// DSN is the normalized connection string, or the SQLite file path.
	DSN    string
	Reason string
}

func (b Backend) String() string {
	return fmt.Sprintf("%s/%s (%s)", b.Kind, b.Dialect, b.Reason)
}

// Redacted returns the DSN with any password removed, for logs and health output.
func (b Backend) Redacted() string {
	if b.Kind == KindEmbedded {
		return b.DSN
	}
	u, err := url.Parse(b.DSN)
	if err != nil || u.Host == "" {
		if at := strings.LastIndex(b.DSN, "@"); at >= 0 {
			return "***" + b.DSN[at:]
		}
		return b.DSN
	}
	return u.Redacted()
}

// Prober opens a real connection to check a networked backend is usable.
type Prober interface {
	Probe(ctx context.Context, dialect, dsn string) error
}

// Selector decides which backend to use from an optional connection string.
type Selector struct {
	SQLitePath       string
	InternalSuffixes []string
	ProbeTimeout     time.Duration
	Prober           Prober
	Logger           *zap.Logger
}

// NewSelector returns a selector using the real network prober.
func NewSelector(sqlitePath string, suffixes []string, timeout time.Duration, logger *zap.Logger) *Selector {
	return &Selector{
		SQLitePath:       sqlitePath,
		InternalSuffixes: suffixes,
		ProbeTimeout:     timeout,
		Prober:           NetworkProber{},
		Logger:           logger,
	}
}

// Select never fails: anything that cannot be confirmed as a usable
// networked database resolves to the embedded backend.
func (s *Selector) Select(ctx context.Context, raw string) Backend {
	b := s.decide(ctx, raw)
	s.logger().Info("persistence backend selected",
		zap.String("kind", string(b.Kind)),
		zap.String("dialect", b.Dialect),
		zap.String("dsn", b.Redacted()),
		zap.String("reason", b.Reason),
	)
	return b
}

func (s *Selector) decide(ctx context.Context, raw string) Backend {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.embedded("no connection string configured")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return s.embedded("unparseable connection string")
	}
	dialect := dialectForScheme(u.Scheme)
	if dialect == "" {
		return s.embedded(fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	dsn, err := Normalize(dialect, raw)
	if err != nil {
		return s.embedded(fmt.Sprintf("invalid %s connection string: %v", dialect, err))
	}

	if IsInternalHost(u.Hostname(), s.InternalSuffixes) {
		if err := s.probe(ctx, dialect, dsn); err != nil {
			s.logger().Warn("internal database host unreachable, using embedded backend",
				zap.String("host", u.Hostname()),
				zap.Error(err),
			)
			return s.embedded("internal host unreachable")
		}
		return Backend{Kind: KindNetworked, Dialect: dialect, DSN: dsn, Reason: "internal host probe succeeded"}
	}
	return Backend{Kind: KindNetworked, Dialect: dialect, DSN: dsn, Reason: "connection string configured"}
}

// probe bounds the prober by the timeout even when it ignores ctx, and turns
// a panic inside a driver into an ordinary error.
func (s *Selector) probe(ctx context.Context, dialect, dsn string) error {
	if s.Prober == nil {
		return fmt.Errorf("no prober configured")
	}
	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panic: %v", r)
			}
		}()
		done <- s.Prober.Probe(ctx, dialect, dsn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("probe %s: %w", dialect, ctx.Err())
	}
}

func (s *Selector) embedded(reason string) Backend {
	path := s.SQLitePath
	if path == "" {
		path = "gami.db"
	}
	return Backend{Kind: KindEmbedded, Dialect: DialectSQLite, DSN: path, Reason: reason}
}

func (s *Selector) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func dialectForScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return DialectPostgres
	case "mysql":
		return DialectMySQL
	default:
		return ""
	}
}

// IsInternalHost reports whether host is only reachable from inside a private
// network: it ends with one of suffixes or is a private IP literal.
func IsInternalHost(host string, suffixes []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix != "" && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate()
	}
	return false
}
