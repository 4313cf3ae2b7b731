package osc

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

// Integration tests run against a disposable MySQL server when
// TABLESHIFT_TEST_SOCKET (or TABLESHIFT_TEST_HOST) is set, e.g.:
//
//	TABLESHIFT_TEST_SOCKET=/tmp/mysql.sock TABLESHIFT_TEST_DB=osctest go test ./internal/osc/
func integrationConfig(t *testing.T) session.Config {
	t.Helper()
	socket := os.Getenv("TABLESHIFT_TEST_SOCKET")
	host := os.Getenv("TABLESHIFT_TEST_HOST")
	if socket == "" && host == "" {
		t.Skip("set TABLESHIFT_TEST_SOCKET or TABLESHIFT_TEST_HOST to run integration tests")
	}
	db := os.Getenv("TABLESHIFT_TEST_DB")
	if db == "" {
		db = "osctest"
	}
	user := os.Getenv("TABLESHIFT_TEST_USER")
	if user == "" {
		user = "root"
	}
	return session.Config{
		Socket:   socket,
		Host:     host,
		Port:     3306,
		User:     user,
		Password: os.Getenv("TABLESHIFT_TEST_PASSWORD"),
		Database: db,
	}
}

func integrationSession(t *testing.T, cfg session.Config) *session.Session {
	t.Helper()
	sess, err := session.Connect(context.Background(), cfg, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func mustExec(t *testing.T, sess *session.Session, stmt string, args ...any) {
	t.Helper()
	if _, err := sess.Exec(context.Background(), stmt, args...); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func runCopy(t *testing.T, cfg session.Config, ddl string, opts Options) (*Summary, error) {
	t.Helper()
	ctrl := NewController(cfg, opts, ddl, hclog.NewNullLogger())
	return ctrl.Run(context.Background())
}

// Scenario: add a column to a populated table.
func TestIntegration_AddColumn(t *testing.T) {
	cfg := integrationConfig(t)
	sess := integrationSession(t, cfg)
	ctx := context.Background()

	mustExec(t, sess, "DROP TABLE IF EXISTS table1")
	mustExec(t, sess, "CREATE TABLE table1 (id INT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB")
	mustExec(t, sess, "INSERT INTO table1 (id) VALUES (1), (2)")
	t.Cleanup(func() { sess.Exec(ctx, "DROP TABLE IF EXISTS table1") })

	summary, err := runCopy(t, cfg,
		"CREATE TABLE table1 (id INT NOT NULL, data VARCHAR(10) DEFAULT NULL, PRIMARY KEY (id)) ENGINE=InnoDB",
		DefaultOptions())
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if summary.RowsCopied != 2 {
		t.Errorf("RowsCopied = %d, want 2", summary.RowsCopied)
	}

	rows, err := sess.Query(ctx, "SELECT id, data FROM table1 ORDER BY id")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var id int
		var data sql.NullString
		if err := rows.Scan(&id, &data); err != nil {
			t.Fatal(err)
		}
		got = append(got, fmt.Sprintf("%d:%v", id, data.Valid))
	}
	if len(got) != 2 || got[0] != "1:false" || got[1] != "2:false" {
		t.Errorf("rows after cutover: %v", got)
	}
}

// Scenario: removing primary key columns is rejected and leaves the
// table untouched.
func TestIntegration_RejectedPKRemoval(t *testing.T) {
	cfg := integrationConfig(t)
	sess := integrationSession(t, cfg)
	ctx := context.Background()

	mustExec(t, sess, "DROP TABLE IF EXISTS t_pk")
	mustExec(t, sess, "CREATE TABLE t_pk (id1 INT NOT NULL, id2 INT NOT NULL, id3 INT NOT NULL, PRIMARY KEY (id1, id2, id3)) ENGINE=InnoDB")
	t.Cleanup(func() { sess.Exec(ctx, "DROP TABLE IF EXISTS t_pk") })

	_, err := runCopy(t, cfg,
		"CREATE TABLE t_pk (id1 INT NOT NULL, id2 INT NOT NULL, id3 INT NOT NULL, PRIMARY KEY (id2, id3)) ENGINE=InnoDB",
		DefaultOptions())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if oscerr.KindOf(err) != oscerr.ValidationError {
		t.Errorf("kind = %v, want ValidationError", oscerr.KindOf(err))
	}

	create, err := sess.ShowCreateTable(ctx, "t_pk")
	if err != nil {
		t.Fatal(err)
	}
	if want := "PRIMARY KEY (`id1`,`id2`,`id3`)"; !strings.Contains(create, want) {
		t.Errorf("table changed despite rejection:\n%s", create)
	}
}

// Scenario: a table with a unicode name survives the full pipeline.
func TestIntegration_UnicodeTableName(t *testing.T) {
	cfg := integrationConfig(t)
	sess := integrationSession(t, cfg)
	ctx := context.Background()
	name := "(╯°□°）╯︵ ┻━┻"

	mustExec(t, sess, "DROP TABLE IF EXISTS "+session.Quote(name))
	mustExec(t, sess, "CREATE TABLE "+session.Quote(name)+" (id INT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB")
	mustExec(t, sess, "INSERT INTO "+session.Quote(name)+" (id) VALUES (1), (2)")
	t.Cleanup(func() { sess.Exec(ctx, "DROP TABLE IF EXISTS "+session.Quote(name)) })

	_, err := runCopy(t, cfg,
		"CREATE TABLE "+session.Quote(name)+" (id INT NOT NULL, data VARCHAR(10) DEFAULT NULL, PRIMARY KEY (id)) ENGINE=InnoDB",
		DefaultOptions())
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	var n int
	if err := sess.QueryRow(ctx, "SELECT COUNT(*) FROM "+session.Quote(name)).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("row count = %d, want 2", n)
	}
}

// No artifacts remain after a completed run.
func TestIntegration_NoArtifactsRemain(t *testing.T) {
	cfg := integrationConfig(t)
	sess := integrationSession(t, cfg)
	ctx := context.Background()

	mustExec(t, sess, "DROP TABLE IF EXISTS t_clean")
	mustExec(t, sess, "CREATE TABLE t_clean (id INT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB")
	t.Cleanup(func() { sess.Exec(ctx, "DROP TABLE IF EXISTS t_clean") })

	if _, err := runCopy(t, cfg,
		"CREATE TABLE t_clean (id INT NOT NULL, v INT DEFAULT NULL, PRIMARY KEY (id)) ENGINE=InnoDB",
		DefaultOptions()); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	for _, leftover := range []string{"_t_clean_new", "_t_clean_chg", "_t_clean_old"} {
		exists, err := sess.TableExists(ctx, cfg.Database, leftover)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Errorf("artifact %q survived the run", leftover)
		}
	}
	triggers, err := sess.TriggersOn(ctx, cfg.Database, "t_clean")
	if err != nil {
		t.Fatal(err)
	}
	if len(triggers) != 0 {
		t.Errorf("triggers survived the run: %v", triggers)
	}
}
