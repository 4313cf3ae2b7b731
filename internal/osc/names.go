// Package osc is the copy engine: change capture, chunked copy, replay,
// cutover and cleanup, sequenced by the payload controller.
package osc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// maxIdentifierLen is MySQL's identifier length limit in characters.
const maxIdentifierLen = 64

// Column names of the change-capture log.
const (
	deltaIDCol   = "chg_id"
	deltaTypeCol = "chg_type"
	deltaTSCol   = "chg_ts"
)

// DML type codes recorded by the capture triggers.
const (
	dmlInsert = 1
	dmlUpdate = 2
	dmlDelete = 3
)

// advisoryLockName serializes OSC runs per server instance.
const advisoryLockName = "TableShiftSchemaChange"

// Names holds every session-scoped identifier generated for one run.
type Names struct {
	Table      string
	Shadow     string
	Delta      string
	Old        string
	TriggerIns string
	TriggerUpd string
	TriggerDel string
	OutfileDir string
	StateFile  string
	Nonce      string
}

// NewNonce returns a short random hex string making generated
// identifiers unique.
func NewNonce() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

// NewNames derives all artifact identifiers for a source table.
func NewNames(table, tmpdir, nonce string) Names {
	n := Names{
		Table:      table,
		Shadow:     suffixed(table, "_new", nonce),
		Delta:      suffixed(table, "_chg", nonce),
		Old:        suffixed(table, "_old", nonce),
		Nonce:      nonce,
		OutfileDir: filepath.Join(tmpdir, fmt.Sprintf("_%s_%s", sanitizePath(table), nonce)),
		StateFile:  filepath.Join(tmpdir, fmt.Sprintf("osc.%d.state", os.Getpid())),
	}
	n.TriggerIns = suffixed(table, "_chg_ins", nonce)
	n.TriggerUpd = suffixed(table, "_chg_upd", nonce)
	n.TriggerDel = suffixed(table, "_chg_del", nonce)
	return n
}

// suffixed builds "_<table><suffix>", truncating the table part when the
// result would exceed MySQL's 64-character identifier limit. Truncated
// names embed the nonce so they stay unique.
func suffixed(table, suffix, nonce string) string {
	name := "_" + table + suffix
	if len([]rune(name)) <= maxIdentifierLen {
		return name
	}
	tail := "_" + nonce + suffix
	budget := maxIdentifierLen - len([]rune(tail)) - 1
	runes := []rune(table)
	if budget < len(runes) {
		runes = runes[:budget]
	}
	return "_" + string(runes) + tail
}

// sanitizePath replaces path separators and NUL bytes in a table name so
// it can be embedded in a directory name. Anything else, including non-ASCII, is
// kept as-is.
func sanitizePath(table string) string {
	out := []rune(table)
	for i, r := range out {
		if r == os.PathSeparator || r == '\x00' {
			out[i] = '_'
		}
	}
	return string(out)
}

// ChunkFile returns the outfile path for one chunk.
func (n Names) ChunkFile(chunk int64) string {
	return filepath.Join(n.OutfileDir, fmt.Sprintf("chunk.%d", chunk))
}
