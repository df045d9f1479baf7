package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// readLogFile returns the parsed JSON lines of the single log file in
// dir.
func readLogFile(t *testing.T, dir string) []map[string]any {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("log dir holds %d files, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		out = append(out, record)
	}
	return out
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLevelToSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(42), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.toSlogLevel(); got != tt.want {
			t.Errorf("Level(%d).toSlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNew_ZeroConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil || logger.Slog() == nil {
		t.Fatal("New(Config{}) should return a usable logger")
	}
	if logger.file != nil {
		t.Error("no LogDir configured, no file should be open")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() without file = %v, want nil", err)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Slog() == nil {
		t.Fatal("Default() should return a usable logger")
	}
	if logger.config.Service != "sheetops" {
		t.Errorf("Default() service = %q, want sheetops", logger.config.Service)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "mediator",
		Quiet:   true,
	})

	logger.Info("plan dispatched", "calls", 3)
	logger.Debug("should be filtered")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readLogFile(t, dir)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (debug filtered at Info level)", len(records))
	}
	r := records[0]
	if r["msg"] != "plan dispatched" {
		t.Errorf("msg = %v, want plan dispatched", r["msg"])
	}
	if r["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", r["level"])
	}
	if r["service"] != "mediator" {
		t.Errorf("service = %v, want mediator", r["service"])
	}
	if r["calls"] != float64(3) {
		t.Errorf("calls = %v, want 3", r["calls"])
	}
}

func TestNew_FileNameUsesServiceAndDate(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir: %v, %d entries", err, len(entries))
	}
	want := "sheetops_" + time.Now().Format("2006-01-02") + ".log"
	if entries[0].Name() != want {
		t.Errorf("log file = %q, want %q", entries[0].Name(), want)
	}
}

func TestNew_ExpandsLogDirTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger := New(Config{LogDir: "~/logs", Quiet: true})
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readLogFile(t, filepath.Join(home, "logs"))
	if len(records) != 1 {
		t.Errorf("got %d records under expanded ~, want 1", len(records))
	}
}

func TestWith_ChildCarriesAttrs(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})

	child := logger.With("spreadsheet_id", "budget")
	child.Info("from child")
	logger.Info("from parent")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readLogFile(t, dir)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, r := range records {
		switch r["msg"] {
		case "from child":
			if r["spreadsheet_id"] != "budget" {
				t.Errorf("child record missing attr: %v", r)
			}
		case "from parent":
			if _, ok := r["spreadsheet_id"]; ok {
				t.Errorf("parent record leaked child attr: %v", r)
			}
		default:
			t.Errorf("unexpected record: %v", r)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	logger.Info("once")

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestMultiHandler_FanOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h)

	logger.Info("info entry")
	logger.Warn("warn entry")

	if got := strings.Count(a.String(), "\n"); got != 2 {
		t.Errorf("info-level handler got %d records, want 2", got)
	}
	if got := strings.Count(b.String(), "\n"); got != 1 {
		t.Errorf("warn-level handler got %d records, want 1 (info gated)", got)
	}
	if !strings.Contains(b.String(), "warn entry") {
		t.Errorf("warn-level handler output = %q, want warn entry", b.String())
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	ctx := context.Background()
	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("Enabled(Info) = true, no handler accepts Info")
	}
	if !h.Enabled(ctx, slog.LevelWarn) {
		t.Error("Enabled(Warn) = false, one handler accepts Warn")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"~/.sheetops/logs", filepath.Join(home, ".sheetops/logs")},
		{"/var/log/sheetops", "/var/log/sheetops"},
		{"relative/logs", "relative/logs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.path); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
