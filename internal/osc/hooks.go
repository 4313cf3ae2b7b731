package osc

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

// HookPoint names one of the closed set of callback points consumed by
// external test harnesses.
type HookPoint string

const (
	HookBeforeInitConnection          HookPoint = "before_init_connection"
	HookAfterRunDDL                   HookPoint = "after_run_ddl"
	HookAfterSelectChunkIntoOutfile   HookPoint = "after_select_chunk_into_outfile"
	HookBeforeCleanup                 HookPoint = "before_cleanup"
	HookAfterCleanup                  HookPoint = "after_cleanup"
)

// hookRunner resolves each hook point to "<dir>/<point>.sql" and, when
// the file exists, executes its statements against the same instance.
// Hook failures are not recoverable.
type hookRunner struct {
	dir  string
	sess *session.Session
	log  hclog.Logger
}

func newHookRunner(dir string, sess *session.Session, log hclog.Logger) *hookRunner {
	return &hookRunner{dir: dir, sess: sess, log: log}
}

// run executes the hook file for the given point, if present.
func (h *hookRunner) run(ctx context.Context, point HookPoint) error {
	if h == nil || h.dir == "" {
		return nil
	}
	path := filepath.Join(h.dir, string(point)+".sql")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "reading hook %s", point)
	}

	h.log.Info("running hook", "point", point, "file", path)
	for _, stmt := range splitHookStatements(string(data)) {
		if _, err := h.sess.Exec(ctx, stmt); err != nil {
			return oscerr.Wrap(oscerr.IOError, err, "hook %s failed", point)
		}
	}
	return nil
}

// splitHookStatements splits hook SQL on semicolons, ignoring semicolons
// inside single-quoted strings and backticked identifiers.
func splitHookStatements(text string) []string {
	var stmts []string
	var current strings.Builder
	var inQuote, inIdent bool
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'' && !inIdent:
			if inQuote && i+1 < len(text) && text[i+1] == '\'' {
				current.WriteByte(c)
				current.WriteByte(c)
				i++
				continue
			}
			inQuote = !inQuote
			current.WriteByte(c)
		case c == '`' && !inQuote:
			inIdent = !inIdent
			current.WriteByte(c)
		case c == ';' && !inQuote && !inIdent:
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
