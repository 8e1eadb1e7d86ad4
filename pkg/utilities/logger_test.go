package utilities

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitProduction(t *testing.T) {
	lg, err := Init(Config{Level: "info"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	lg.Sugar().Info("test message")
	_ = lg.Sync()
}

func TestInitDev(t *testing.T) {
	lg, err := Init(Config{Level: "debug", Dev: true})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	lg.Sugar().Debug("test message")
	_ = lg.Sync()
}

func TestInitWithFileSink(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "bridge.log")

	lg, err := Init(Config{Level: "info", File: logPath})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	lg.Sugar().Info("to the file")
	_ = lg.Sync()

	matches, err := filepath.Glob(logPath + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no rotated log file was created")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"bogus", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		if got := levelFromString(tt.in).String(); got != tt.want {
			t.Errorf("levelFromString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
