package osc

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nethalo/tableshift/internal/oscerr"
)

// State is the persisted cleanup record. It is written before the first
// state-mutating DDL so a later cleanup invocation can reconstruct every
// artifact by name alone, and deleted as the last cleanup step.
type State struct {
	Database   string
	Table      string
	Shadow     string
	Delta      string
	Old        string
	OutfileDir string
	Triggers   []string
	PID        int
}

// NewState captures the artifact names for one run.
func NewState(database string, n Names) *State {
	return &State{
		Database:   database,
		Table:      n.Table,
		Shadow:     n.Shadow,
		Delta:      n.Delta,
		Old:        n.Old,
		OutfileDir: n.OutfileDir,
		Triggers:   []string{n.TriggerIns, n.TriggerUpd, n.TriggerDel},
		PID:        os.Getpid(),
	}
}

// Save writes the state file atomically.
func (st *State) Save(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "database=%s\n", st.Database)
	fmt.Fprintf(&b, "table=%s\n", st.Table)
	fmt.Fprintf(&b, "shadow=%s\n", st.Shadow)
	fmt.Fprintf(&b, "delta=%s\n", st.Delta)
	fmt.Fprintf(&b, "old=%s\n", st.Old)
	fmt.Fprintf(&b, "outfile_dir=%s\n", st.OutfileDir)
	for _, t := range st.Triggers {
		fmt.Fprintf(&b, "trigger=%s\n", t)
	}
	fmt.Fprintf(&b, "pid=%d\n", st.PID)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0600); err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "writing state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "renaming state file")
	}
	return nil
}

// LoadState reads a state file written by Save.
func LoadState(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oscerr.Wrap(oscerr.IOError, err, "opening state file")
	}
	defer f.Close()

	st := &State{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, oscerr.New(oscerr.IOError,
				"malformed state file line %q in %s", line, path)
		}
		switch key {
		case "database":
			st.Database = value
		case "table":
			st.Table = value
		case "shadow":
			st.Shadow = value
		case "delta":
			st.Delta = value
		case "old":
			st.Old = value
		case "outfile_dir":
			st.OutfileDir = value
		case "trigger":
			st.Triggers = append(st.Triggers, value)
		case "pid":
			st.PID, _ = strconv.Atoi(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, oscerr.Wrap(oscerr.IOError, err, "reading state file")
	}
	return st, nil
}

// RemoveState deletes the state file; missing is not an error.
func RemoveState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return oscerr.Wrap(oscerr.IOError, err, "removing state file")
	}
	return nil
}

// FindStateFiles lists state files left in a directory by previous runs.
func FindStateFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oscerr.Wrap(oscerr.IOError, err, "scanning %s", dir)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "osc.") && strings.HasSuffix(name, ".state") {
			files = append(files, dir+string(os.PathSeparator)+name)
		}
	}
	return files, nil
}
