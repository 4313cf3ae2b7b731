package session

import (
	"strings"
	"testing"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		wantErr bool
	}{
		{
			name: "tcp",
			cfg:  Config{Host: "127.0.0.1", Port: 3306, User: "osc", Password: "secret", Database: "appdb"},
			want: []string{"osc:secret@tcp(127.0.0.1:3306)/appdb", "interpolateParams=true"},
		},
		{
			name: "socket",
			cfg:  Config{Socket: "/var/run/mysqld/mysqld.sock", User: "osc", Database: "appdb"},
			want: []string{"unix(/var/run/mysqld/mysqld.sock)"},
		},
		{
			name: "no database falls back to information_schema",
			cfg:  Config{Host: "h", Port: 3306, User: "osc"},
			want: []string{"/information_schema"},
		},
		{
			name: "tls required",
			cfg:  Config{Host: "h", Port: 3306, User: "osc", Database: "d", TLSMode: "required"},
			want: []string{"tls=true"},
		},
		{
			name:    "invalid tls mode",
			cfg:     Config{Host: "h", Port: 3306, User: "osc", Database: "d", TLSMode: "bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildDSN(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(dsn, want) {
					t.Errorf("DSN %q missing %q", dsn, want)
				}
			}
		})
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"users", "`users`"},
		{"odd`name", "`odd``name`"},
		{"(╯°□°）╯︵ ┻━┻", "`(╯°□°）╯︵ ┻━┻`"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteList(t *testing.T) {
	got := QuoteList([]string{"a", "b`c"})
	if got != "`a`, `b``c`" {
		t.Errorf("QuoteList = %q", got)
	}
}

func TestQuotePrefixed(t *testing.T) {
	got := QuotePrefixed("NEW", []string{"id", "name"})
	if got != "`NEW`.`id`, `NEW`.`name`" {
		t.Errorf("QuotePrefixed = %q", got)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		raw    string
		major  int
		minor  int
		patch  int
		flavor string
	}{
		{"8.0.35", 8, 0, 35, "mysql"},
		{"8.0.35-27-Percona Server", 8, 0, 35, "percona"},
		{"5.7.44-log", 5, 7, 44, "mysql"},
		{"10.11.6-MariaDB", 10, 11, 6, "mariadb"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := ParseVersion(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Major != tt.major || v.Minor != tt.minor || v.Patch != tt.patch {
				t.Errorf("got %d.%d.%d", v.Major, v.Minor, v.Patch)
			}
			if v.Flavor != tt.flavor {
				t.Errorf("Flavor = %q, want %q", v.Flavor, tt.flavor)
			}
		})
	}

	if _, err := ParseVersion("garbage"); err == nil {
		t.Error("expected error for unparseable version")
	}
}

func TestVersionAtLeast(t *testing.T) {
	v := ServerVersion{Major: 8, Minor: 0, Patch: 23}
	if !v.AtLeast(5, 7, 0) || !v.AtLeast(8, 0, 23) {
		t.Error("AtLeast false negative")
	}
	if v.AtLeast(8, 0, 24) || v.AtLeast(8, 4, 0) {
		t.Error("AtLeast false positive")
	}
}
