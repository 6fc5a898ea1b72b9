package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"liveclass/internal/cleanup"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "liveclass.yaml")
	body := "database:\n  database_path: " + filepath.Join(dir, "data.db") + "\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"serve", "sweep", "migrate"} {
		if found, _, err := cmd.Find([]string{name}); err != nil || found.Name() != name {
			t.Errorf("Expected subcommand %q, got %v", name, err)
		}
	}
}

func TestMigrateCmd(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "migrate", "--config", path)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("Unexpected output: %q", out)
	}

	// Re-running is a no-op.
	if _, err := execute(t, "migrate", "--config", path); err != nil {
		t.Errorf("Second migrate failed: %v", err)
	}
}

func TestSweepCmd_EmptyDatabase(t *testing.T) {
	out, err := execute(t, "sweep", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	var report cleanup.SweepReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("sweep output is not a report: %v (%s)", err, out)
	}
	if report.Skipped || report.Expired != 0 || report.Purged != 0 {
		t.Errorf("Expected an empty sweep, got %+v", report)
	}
}

func TestCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := execute(t, "migrate", "--config", path); err == nil {
		t.Error("Expected invalid configuration to be rejected")
	}
}
