package session

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ServerVersion represents a parsed MySQL version.
type ServerVersion struct {
	Raw    string // e.g. "8.0.35-27-Percona Server"
	Major  int
	Minor  int
	Patch  int
	Flavor string // "mysql", "percona", "mariadb"
}

// String returns a human-readable version string.
func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (%s)", v.Major, v.Minor, v.Patch, v.Flavor)
}

// AtLeast returns true if the server version is >= the given version.
func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

// ParseVersion parses a MySQL version string.
func ParseVersion(raw string) (ServerVersion, error) {
	v := ServerVersion{Raw: raw}
	matches := versionRe.FindStringSubmatch(raw)
	if len(matches) < 4 {
		return v, fmt.Errorf("could not parse version: %s", raw)
	}
	v.Major, _ = strconv.Atoi(matches[1])
	v.Minor, _ = strconv.Atoi(matches[2])
	v.Patch, _ = strconv.Atoi(matches[3])

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "percona"):
		v.Flavor = "percona"
	case strings.Contains(lower, "mariadb"):
		v.Flavor = "mariadb"
	default:
		v.Flavor = "mysql"
	}
	return v, nil
}

// ServerVersion queries and parses the server version.
func (s *Session) ServerVersion(ctx context.Context) (ServerVersion, error) {
	var raw string
	if err := s.QueryRow(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		return ServerVersion{}, fmt.Errorf("querying version: %w", err)
	}
	return ParseVersion(raw)
}

// escapeLike escapes LIKE wildcards in a variable name.
func escapeLike(name string) string {
	name = strings.ReplaceAll(name, "_", "\\_")
	return strings.ReplaceAll(name, "%", "\\%")
}

// Var reads a single server system variable. Returns the empty string
// when the variable does not exist.
// Note: SHOW commands don't support prepared statements in all MySQL
// drivers, so the escaped name is inlined.
func (s *Session) Var(ctx context.Context, name string) (string, error) {
	var varName, value sql.NullString

	query := fmt.Sprintf("SHOW GLOBAL VARIABLES LIKE '%s'", escapeLike(name))
	err := s.QueryRow(ctx, query).Scan(&varName, &value)
	if err == nil && value.Valid && value.String != "" {
		return value.String, nil
	}

	query = fmt.Sprintf("SHOW VARIABLES LIKE '%s'", escapeLike(name))
	err = s.QueryRow(ctx, query).Scan(&varName, &value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query failed: %w", err)
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}

// VarInt reads a server system variable as int64.
func (s *Session) VarInt(ctx context.Context, name string) (int64, error) {
	val, err := s.Var(ctx, name)
	if err != nil || val == "" {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// Status reads a single global status counter.
func (s *Session) Status(ctx context.Context, name string) (string, error) {
	var varName, value string
	query := fmt.Sprintf("SHOW GLOBAL STATUS LIKE '%s'", escapeLike(name))
	err := s.QueryRow(ctx, query).Scan(&varName, &value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetSessionVar assigns a session variable on the pinned connection.
func (s *Session) SetSessionVar(ctx context.Context, name string, value any) error {
	_, err := s.Exec(ctx, fmt.Sprintf("SET SESSION %s = ?", name), value)
	return err
}
