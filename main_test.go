package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// isolateConfig points the embedded database at a temp dir and clears any
// networked settings from the environment.
func isolateConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "data", "gami.db")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	return filepath.Join(dir, "missing.toml"), dbPath
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "gami dev") {
		t.Errorf("expected output to contain 'gami dev', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, want := range []string{"serve", "db", "--config"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to mention %q, got: %s", want, out)
		}
	}
}

func TestDBInitCreatesSchemaAndProfiles(t *testing.T) {
	configPath, dbPath := isolateConfig(t)

	for i := 0; i < 2; i++ {
		out, err := runCmd(t, "--config", configPath, "db", "init")
		if err != nil {
			t.Fatalf("db init run %d failed: %v\n%s", i+1, err, out)
		}
		if !strings.Contains(out, "embedded/sqlite") {
			t.Errorf("expected embedded backend, got: %s", out)
		}
		for _, name := range []string{"modo_programador", "modo_consultor", "modo_geral"} {
			if !strings.Contains(out, name) {
				t.Errorf("expected profile %s in output, got: %s", name, out)
			}
		}
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestDBCheck(t *testing.T) {
	configPath, _ := isolateConfig(t)
	out, err := runCmd(t, "--config", configPath, "db", "check")
	if err != nil {
		t.Fatalf("db check failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Database reachable.") {
		t.Errorf("expected reachable database, got: %s", out)
	}
}

func TestDBInitBadConfig(t *testing.T) {
	_, _ = isolateConfig(t)
	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("basic_config = ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := runCmd(t, "--config", bad, "db", "init"); err == nil {
		t.Fatalf("expected error for malformed config")
	}
}
