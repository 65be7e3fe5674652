package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("session ready", "camera", "back")

	out := buf.String()
	if !strings.Contains(out, `msg="session ready"`) {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=capture") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "camera=back") {
		t.Fatalf("expected camera field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatAndSessionField(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	WithSession(L("writer"), "abc-123").Debug("frame written")

	out := buf.String()
	if !strings.Contains(out, `"session":"abc-123"`) {
		t.Fatalf("expected session field in json output, got: %s", out)
	}
	if !strings.Contains(out, `"component":"writer"`) {
		t.Fatalf("expected component field in json output, got: %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}

	logger := L("ctx")
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("FromContext should return the stored logger")
	}
}

func TestSetLevelAppliesToExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "error", &buf)
	logger := L("device")

	logger.Info("before")
	SetLevel("debug")
	logger.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRotatingWriterRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camrec.log")
	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rw.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "camrec-*.log"))
	if len(backups) != 2 {
		t.Fatalf("backups = %v, want 2", backups)
	}
	if want := filepath.Join(dir, "camrec-20260301T120004.000.log"); backups[1] != want {
		t.Fatalf("newest backup = %s, want %s", backups[1], want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("current log size = %d, want %d", info.Size(), len(chunk))
	}
}

func TestRotatingWriterClosed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Fatal("write after close succeeded")
	}
	if err := rw.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if _, err := rw.Write([]byte("x")); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	_ = rw.Close()
}
