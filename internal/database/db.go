package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds database configuration
type Config struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  int
}

type DB struct {
	conn   *sqlx.DB
	driver string
}

// NewDB opens the pool with retry logic for the initial connection.
func NewDB(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn := cfg.URL
	if cfg.Driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 5
	}

	var conn *sqlx.DB
	var err error
	for i := 0; i < retries; i++ {
		conn, err = sqlx.Open(cfg.Driver, dsn)
		if err == nil {
			err = conn.Ping()
			if err == nil {
				break
			}
			conn.Close()
		}
		if i == retries-1 {
			return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retries, err)
		}
		time.Sleep(time.Second * time.Duration(i+1))
	}

	if cfg.Driver == DriverSQLite {
		// A single connection keeps in-memory databases alive and serialises writers.
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxLifetime(0)
	} else {
		conn.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
		conn.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
		if cfg.ConnMaxLifetime > 0 {
			conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			conn.SetConnMaxLifetime(5 * time.Minute)
		}
	}

	return &DB{conn: conn, driver: cfg.Driver}, nil
}

// Wrap adapts an existing handle, e.g. one backed by sqlmock.
func Wrap(conn *sql.DB, driver string) *DB {
	return &DB{conn: sqlx.NewDb(conn, driver), driver: driver}
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Driver() string {
	return db.driver
}

// GetConnection exposes the pool for callers that need raw access.
func (db *DB) GetConnection() *sql.DB {
	return db.conn.DB
}

// Stats returns pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.conn.Stats()
}

// Session acquires a dedicated connection for one unit of work. The caller
// must Close it; the connection is never held across scheduler sleeps.
func (db *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := db.conn.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return &Session{conn: conn, driver: db.driver}, nil
}

// Session is a scoped connection. All query methods live on it.
type Session struct {
	conn   *sqlx.Conn
	driver string
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// in expands slice arguments and rebinds placeholders for the session's driver.
func (s *Session) in(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expanding query: %w", err)
	}
	return s.conn.Rebind(q), a, nil
}

func sqliteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func stringsOf[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
