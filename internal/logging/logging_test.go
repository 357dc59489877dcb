package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "spendgate.log")
	l, err := New("info", path)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("expense submitted")
	l.Debug("hidden at info level")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"expense submitted"`) {
		t.Errorf("expected info line, got %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("loud", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
}
