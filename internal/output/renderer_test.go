package output

import (
	"strings"
	"testing"
	"time"

	"github.com/nethalo/tableshift/internal/osc"
)

func TestPlainRenderer_Summary(t *testing.T) {
	var b strings.Builder
	r := NewRenderer("plain", &b)
	r.RenderSummary(&osc.Summary{
		Table:        "users",
		FinalState:   "DONE",
		ChunksCopied: 12,
		RowsCopied:   123456,
		RowsReplayed: 789,
		WallTime:     3 * time.Second,
		LockTime:     200 * time.Millisecond,
	})

	out := b.String()
	for _, want := range []string{"users", "DONE", "123,456", "789"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlainRenderer_NoOp(t *testing.T) {
	var b strings.Builder
	r := NewRenderer("plain", &b)
	r.RenderSummary(&osc.Summary{Table: "users", NoOp: true})
	if !strings.Contains(b.String(), "already has the desired schema") {
		t.Errorf("no-op output: %s", b.String())
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRenderer_DefaultsToText(t *testing.T) {
	var b strings.Builder
	if _, ok := NewRenderer("text", &b).(*TextRenderer); !ok {
		t.Error("text format should produce the styled renderer")
	}
	if _, ok := NewRenderer("plain", &b).(*PlainRenderer); !ok {
		t.Error("plain format should produce the plain renderer")
	}
	if _, ok := NewRenderer("", &b).(*TextRenderer); !ok {
		t.Error("an unknown format should fall back to the styled renderer")
	}
}
