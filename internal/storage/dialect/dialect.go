// Package dialect selects the database/sql driver for a connection URI and
// opens handles without dialing.
package dialect

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres")
	Name() string

	// Title is the human-readable product name used in log lines.
	Title() string

	// DriverName returns the database/sql driver name to use
	DriverName() string

	// Open validates dsn and returns a handle. No connection is dialed.
	Open(dsn string) (*sql.DB, error)
}

// DialectType represents supported database types
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

// New creates a new Dialect based on the dialect type
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return &sqliteDialect{}, nil
	case Postgres:
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
	}
}

// FromURI returns the dialect for a connection URI together with the DSN
// handed to the driver.
//
// postgres:// and postgresql:// URLs as well as key=value strings select
// PostgreSQL. When the URI states no sslmode, one is added: "require"
// (encrypted, certificate not verified) when verifyTLS is false and
// "verify-full" otherwise. sqlite://<path>, sqlite:<path> and file:<path>
// select SQLite.
func FromURI(uri string, verifyTLS bool) (Dialect, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, "", fmt.Errorf("connection URI is empty")
	}

	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		dsn, err := withURLSSLMode(uri, verifyTLS)
		if err != nil {
			return nil, "", err
		}
		return &postgresDialect{}, dsn, nil

	case strings.HasPrefix(lower, "sqlite://"):
		return &sqliteDialect{}, uri[len("sqlite://"):], nil

	case strings.HasPrefix(lower, "sqlite:"):
		return &sqliteDialect{}, uri[len("sqlite:"):], nil

	case strings.HasPrefix(lower, "file:"):
		return &sqliteDialect{}, uri, nil

	case !strings.Contains(uri, "://") && strings.Contains(uri, "="):
		return &postgresDialect{}, withKeywordSSLMode(uri, verifyTLS), nil
	}

	scheme := uri
	if i := strings.Index(uri, "://"); i >= 0 {
		scheme = uri[:i]
	}
	return nil, "", fmt.Errorf("unsupported connection scheme %q", scheme)
}

// Describe returns a printable form of a connection URI with credentials removed.
func Describe(uri string) string {
	u, err := url.Parse(uri)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return u.Redacted()
	}

	fields := strings.Fields(uri)
	for i, f := range fields {
		if strings.HasPrefix(strings.ToLower(f), "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

func sslMode(verifyTLS bool) string {
	if verifyTLS {
		return "verify-full"
	}
	return "require"
}

func withURLSSLMode(uri string, verifyTLS bool) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse connection URI: %w", err)
	}
	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", sslMode(verifyTLS))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func withKeywordSSLMode(dsn string, verifyTLS bool) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	return dsn + " sslmode=" + sslMode(verifyTLS)
}

// sqliteDialect implements Dialect for SQLite
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string {
	return "sqlite"
}

func (d *sqliteDialect) Title() string {
	return "SQLite"
}

func (d *sqliteDialect) DriverName() string {
	return "sqlite"
}

func (d *sqliteDialect) Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	return sql.Open(d.DriverName(), dsn)
}

// postgresDialect implements Dialect for PostgreSQL
type postgresDialect struct{}

func (d *postgresDialect) Name() string {
	return "postgres"
}

func (d *postgresDialect) Title() string {
	return "PostgreSQL"
}

func (d *postgresDialect) DriverName() string {
	return "postgres"
}

// Open parses dsn with lib/pq so malformed connection strings fail here
// rather than on first use.
func (d *postgresDialect) Open(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}
	return sql.OpenDB(connector), nil
}
