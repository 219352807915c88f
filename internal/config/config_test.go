package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c != Default() {
		t.Errorf("Load() = %+v, want defaults %+v", c, Default())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "psqlm"), 0o700); err != nil {
		t.Fatal(err)
	}
	body := `{"execution_mode": "auto", "statement_timeout": "15s"}`
	if err := os.WriteFile(filepath.Join(dir, "psqlm", "config.json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.ExecutionMode != ModeAuto {
		t.Errorf("ExecutionMode = %q, want auto", c.ExecutionMode)
	}
	if c.HistoryTurns != 10 {
		t.Errorf("HistoryTurns = %d, want default 10", c.HistoryTurns)
	}
	d, err := c.Timeout()
	if err != nil || d != 15*time.Second {
		t.Errorf("Timeout() = %v, %v", d, err)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "psqlm"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "psqlm", "config.json"), []byte(`{"execution_mode":"yolo"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown execution mode")
	}
}

func TestSaveWritesPrivateFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	c := Default()
	c.OutputFormat = FormatJSON
	if err := Save(c); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "psqlm", "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.OutputFormat != FormatJSON {
		t.Errorf("OutputFormat = %q after reload", got.OutputFormat)
	}
}

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ExecutionMode
		wantErr bool
	}{
		{"auto", ModeAuto, false},
		{" Confirm ", ModeConfirm, false},
		{"SHOW", ModeShow, false},
		{"", "", true},
		{"run", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExecutionMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
