package cmd

import (
	"testing"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"copy":    false,
		"direct":  false,
		"cleanup": false,
		"version": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestCopyOptions_Defaults(t *testing.T) {
	opts, err := copyOptions(copyCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ChunkSize != 500 {
		t.Errorf("ChunkSize = %d, want 500", opts.ChunkSize)
	}
	if opts.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", opts.BatchSize)
	}
	if opts.AllowNewPK || opts.AllowNoPK || opts.EliminateDups {
		t.Error("policy switches must default to off")
	}
}

func TestCopyOptions_FlagPlumbing(t *testing.T) {
	flags := copyCmd.Flags()
	for flag, value := range map[string]string{
		"chunk-size":     "1000",
		"eliminate-dups": "true",
		"rm-partition":   "true",
	} {
		if err := flags.Set(flag, value); err != nil {
			t.Fatalf("setting %s: %v", flag, err)
		}
	}
	t.Cleanup(func() {
		flags.Set("chunk-size", "500")
		flags.Set("eliminate-dups", "false")
		flags.Set("rm-partition", "false")
	})

	opts, err := copyOptions(copyCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ChunkSize != 1000 || !opts.EliminateDups || !opts.RmPartition {
		t.Errorf("flags not mapped: %+v", opts)
	}
}

func TestCopyOptions_RejectsBadChunkSize(t *testing.T) {
	flags := copyCmd.Flags()
	if err := flags.Set("chunk-size", "0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { flags.Set("chunk-size", "500") })

	if _, err := copyOptions(copyCmd); err == nil {
		t.Error("expected error for zero chunk size")
	}
}
