package logx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" ERROR ", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Error("still ignored", Err(errors.New("x")))
}

func TestNopIsNotZero(t *testing.T) {
	t.Parallel()
	if Nop().IsZero() {
		t.Fatal("Nop() must not be mistaken for an unset logger")
	}
}

func TestFileSinkWritesJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.With(String("comp", "test")).Info("hello",
		Int("n", 7),
		Int64("chat", -100),
		Bool("ok", true),
		Duration("took", 250*time.Millisecond),
		Time("at", time.Now()),
		Err(errors.New("soft")))
	svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(b, &line); err != nil {
		t.Fatalf("log line not JSON: %v\n%s", err, b)
	}
	if line["message"] != "hello" || line["comp"] != "test" || line["err"] != "soft" {
		t.Fatalf("line = %v", line)
	}
	if _, ok := line["caller"]; !ok {
		t.Fatal("caller field missing")
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{
		Level: "error",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Debug("dropped")
	log.Info("dropped")
	log.Error("kept")
	svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(b), "\n"); got != 1 {
		t.Fatalf("log lines = %d, want 1:\n%s", got, b)
	}
}

func TestApplySwitchesSinkLive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	log.Info("one")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("two")
	svc.Close()

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !strings.Contains(string(a), "one") || strings.Contains(string(a), "two") {
		t.Fatalf("first sink = %s", a)
	}
	if !strings.Contains(string(b), "two") {
		t.Fatalf("second sink = %s", b)
	}
}
