package schema

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, sql string) *Table {
	t.Helper()
	table, err := Parse(sql)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return table
}

func TestCanonical_IndexOrderIgnored(t *testing.T) {
	a := mustParse(t, `CREATE TABLE t (
		id INT NOT NULL, a INT, b INT,
		PRIMARY KEY (id), KEY idx_a (a), KEY idx_b (b)
	)`)
	b := mustParse(t, `CREATE TABLE t (
		id INT NOT NULL, a INT, b INT,
		PRIMARY KEY (id), KEY idx_b (b), KEY idx_a (a)
	)`)
	if !a.SemanticallyEqual(b) {
		t.Errorf("index declaration order should not matter:\n%s\nvs\n%s",
			a.Canonical(), b.Canonical())
	}
}

func TestCanonical_CosmeticCharsetSpelling(t *testing.T) {
	a := mustParse(t,
		"CREATE TABLE t (id INT NOT NULL, PRIMARY KEY (id)) DEFAULT CHARSET=utf8mb4")
	b := mustParse(t,
		"CREATE TABLE t (id INT NOT NULL, PRIMARY KEY (id)) DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci")
	if !a.SemanticallyEqual(b) {
		t.Errorf("resolved collation should equal explicit default:\n%s\nvs\n%s",
			a.Canonical(), b.Canonical())
	}
}

// Parse, unparse, reparse must yield an equal schema object.
func TestToSQL_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{
			name: "plain",
			sql: "CREATE TABLE t (id INT NOT NULL AUTO_INCREMENT, name VARCHAR(100) NOT NULL, " +
				"PRIMARY KEY (id), UNIQUE KEY uq_name (name)) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		},
		{
			name: "prefix index and default",
			sql: "CREATE TABLE t (id BIGINT UNSIGNED NOT NULL, body TEXT, score DECIMAL(10,2) DEFAULT '0.00', " +
				"PRIMARY KEY (id), KEY idx_body (body(32))) ENGINE=InnoDB DEFAULT CHARSET=latin1",
		},
		{
			name: "hash partitioned",
			sql: "CREATE TABLE t (id INT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB " +
				"PARTITION BY HASH (id) PARTITIONS 4",
		},
		{
			name: "unicode name",
			sql:  "CREATE TABLE `(╯°□°）╯︵ ┻━┻` (id INT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := mustParse(t, tt.sql)
			second := mustParse(t, first.ToSQL())
			if !first.SemanticallyEqual(second) {
				t.Errorf("round trip diverged:\n%s\nvs\n%s",
					first.Canonical(), second.Canonical())
			}
		})
	}
}

func TestToSQL_EscapesBackticks(t *testing.T) {
	table := mustParse(t, "CREATE TABLE `odd``name` (id INT NOT NULL, PRIMARY KEY (id))")
	if table.Name != "odd`name" {
		t.Fatalf("Name = %q", table.Name)
	}
	if !strings.Contains(table.ToSQL(), "`odd``name`") {
		t.Errorf("ToSQL does not re-escape the backtick: %s", table.ToSQL())
	}
}

func TestWithoutPartition(t *testing.T) {
	table := mustParse(t,
		"CREATE TABLE t (id INT NOT NULL, PRIMARY KEY (id)) PARTITION BY HASH (id) PARTITIONS 2")
	stripped := table.WithoutPartition()
	if stripped.Partition != nil {
		t.Error("partition clause survived WithoutPartition")
	}
	if table.Partition == nil {
		t.Error("WithoutPartition mutated the original")
	}
}

func TestUniqueKey_FallsBackFromPrimary(t *testing.T) {
	table := mustParse(t, "CREATE TABLE t (id INT NOT NULL, UNIQUE KEY uq (id))")
	key := table.UniqueKey()
	if key == nil || key.Kind != IndexUnique {
		t.Fatalf("UniqueKey = %+v", key)
	}
	if table.PrimaryKey() != nil {
		t.Error("unexpected primary key")
	}
	if mustParse(t, "CREATE TABLE t (id INT)").UniqueKey() != nil {
		t.Error("keyless table should have no unique key")
	}
}
