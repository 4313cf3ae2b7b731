// Package session is the typed execution surface over one MySQL
// connection: statement execution, row streaming, identifier quoting,
// server-variable inspection and lock acquisition. Each engine task owns
// its own Session; sessions are never shared between goroutines.
package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"syscall"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/term"

	"github.com/nethalo/tableshift/internal/oscerr"
)

// Config holds MySQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string
	TLSMode  string // "", "disabled", "preferred", "required", "skip-verify", "custom"
	TLSCA    string // path to CA certificate file (required when TLSMode == "custom")
}

// Session pins a single MySQL connection so that LOCK TABLES, session
// variables and transactions all observe the same connection state. The
// server thread id is kept so a side session can kill outstanding
// statements.
type Session struct {
	db       *sql.DB
	conn     *sql.Conn
	threadID int64
	inTx     bool
	log      hclog.Logger
}

// Connect opens a pinned MySQL connection.
func Connect(ctx context.Context, cfg Config, log hclog.Logger) (*Session, error) {
	if cfg.TLSMode == "custom" {
		if cfg.TLSCA == "" {
			return nil, fmt.Errorf("--tls-ca is required when --tls=custom")
		}
		if err := registerCustomTLS(cfg.TLSCA); err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, oscerr.ClassifyDB(err, "failed to connect")
	}

	s := &Session{db: db, conn: conn, log: log}
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&s.threadID); err != nil {
		s.Close()
		return nil, oscerr.ClassifyDB(err, "failed to read connection id")
	}
	return s, nil
}

// NewFromDB wraps an already-open database handle, pinning one
// connection from its pool. The thread id is not resolved; callers that
// need KILL targeting should use Connect.
func NewFromDB(ctx context.Context, db *sql.DB, log hclog.Logger) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, oscerr.ClassifyDB(err, "pinning connection")
	}
	return &Session{db: db, conn: conn, log: log}, nil
}

// registerCustomTLS reads a CA certificate PEM file and registers it as a
// named TLS config.
func registerCustomTLS(caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate %q: %w", caPath, err)
	}
	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no valid certificates found in %q", caPath)
	}
	return mysqldriver.RegisterTLSConfig("tableshift-custom", &tls.Config{
		RootCAs: rootCAs,
	})
}

func buildDSN(cfg Config) (string, error) {
	switch cfg.TLSMode {
	case "", "disabled", "preferred", "required", "skip-verify", "custom":
	default:
		return "", fmt.Errorf("invalid TLS mode %q: valid values are disabled, preferred, required, skip-verify, custom", cfg.TLSMode)
	}

	var addr string
	if cfg.Socket != "" {
		addr = fmt.Sprintf("unix(%s)", cfg.Socket)
	} else {
		addr = fmt.Sprintf("tcp(%s:%d)", cfg.Host, cfg.Port)
	}

	db := cfg.Database
	if db == "" {
		db = "information_schema"
	}

	dsn := fmt.Sprintf("%s:%s@%s/%s?parseTime=true&interpolateParams=true",
		cfg.User, cfg.Password, addr, db)

	switch cfg.TLSMode {
	case "preferred":
		dsn += "&tls=preferred"
	case "required":
		dsn += "&tls=true"
	case "skip-verify":
		dsn += "&tls=skip-verify"
	case "custom":
		dsn += "&tls=tableshift-custom"
	}
	return dsn, nil
}

// ThreadID returns the server-side connection id, used by a side session
// to KILL QUERY this session's outstanding statement.
func (s *Session) ThreadID() int64 { return s.threadID }

// InTransaction reports whether an explicit transaction is open.
func (s *Session) InTransaction() bool { return s.inTx }

// Exec runs a statement and returns the number of affected rows.
func (s *Session) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	s.log.Debug("exec", "sql", stmt, "args", args)
	res, err := s.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, oscerr.ClassifyDB(err, "executing %q", stmt)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, oscerr.ClassifyDB(err, "rows affected of %q", stmt)
	}
	return affected, nil
}

// Query runs a statement and streams the result rows.
func (s *Session) Query(ctx context.Context, stmt string, args ...any) (*sql.Rows, error) {
	s.log.Debug("query", "sql", stmt, "args", args)
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, oscerr.ClassifyDB(err, "querying %q", stmt)
	}
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row.
func (s *Session) QueryRow(ctx context.Context, stmt string, args ...any) *sql.Row {
	s.log.Debug("query", "sql", stmt, "args", args)
	return s.conn.QueryRowContext(ctx, stmt, args...)
}

// Begin opens an explicit transaction on the pinned connection.
func (s *Session) Begin(ctx context.Context) error {
	if _, err := s.Exec(ctx, "START TRANSACTION"); err != nil {
		return err
	}
	s.inTx = true
	return nil
}

// BeginWithSnapshot opens a transaction with a consistent read snapshot.
func (s *Session) BeginWithSnapshot(ctx context.Context) error {
	if _, err := s.Exec(ctx, "START TRANSACTION WITH CONSISTENT SNAPSHOT"); err != nil {
		return err
	}
	s.inTx = true
	return nil
}

// Commit commits the open transaction.
func (s *Session) Commit(ctx context.Context) error {
	s.inTx = false
	_, err := s.Exec(ctx, "COMMIT")
	return err
}

// Rollback aborts the open transaction.
func (s *Session) Rollback(ctx context.Context) error {
	s.inTx = false
	_, err := s.Exec(ctx, "ROLLBACK")
	return err
}

// LockTables acquires WRITE locks on all given tables in one statement.
func (s *Session) LockTables(ctx context.Context, tables ...string) error {
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = Quote(t) + " WRITE"
	}
	_, err := s.Exec(ctx, "LOCK TABLES "+strings.Join(parts, ", "))
	return err
}

// UnlockTables releases all table locks held by this session.
func (s *Session) UnlockTables(ctx context.Context) error {
	_, err := s.Exec(ctx, "UNLOCK TABLES")
	return err
}

// KillQuery aborts the statement currently running on another session.
func (s *Session) KillQuery(ctx context.Context, threadID int64) error {
	_, err := s.Exec(ctx, fmt.Sprintf("KILL QUERY %d", threadID))
	return err
}

// Kill terminates another session entirely.
func (s *Session) Kill(ctx context.Context, threadID int64) error {
	_, err := s.Exec(ctx, fmt.Sprintf("KILL %d", threadID))
	return err
}

// GetLock takes the server-wide named advisory lock without waiting.
// Returns false when another holder exists.
func (s *Session) GetLock(ctx context.Context, name string) (bool, error) {
	var got sql.NullInt64
	err := s.QueryRow(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got)
	if err != nil {
		return false, oscerr.ClassifyDB(err, "acquiring lock %q", name)
	}
	return got.Valid && got.Int64 == 1, nil
}

// ReleaseLock releases the named advisory lock.
func (s *Session) ReleaseLock(ctx context.Context, name string) error {
	_, err := s.Exec(ctx, "SELECT RELEASE_LOCK(?)", name)
	return err
}

// Close releases the pinned connection and the pool.
func (s *Session) Close() error {
	var firstErr error
	if s.conn != nil {
		firstErr = s.conn.Close()
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PromptPassword reads a password from the terminal without echoing.
func PromptPassword() string {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}
