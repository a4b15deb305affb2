package executor

import (
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func TestConsoleCapture(t *testing.T) {
	c := NewConsole(1 << 20)
	c.clock = fixedClock

	c.Capture("LOG", "hello", "world")
	c.Capture("ERROR", "failed with", map[string]any{"code": 7})

	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if want := "[2026-03-10T09:00:00.000Z] [LOG] hello world"; lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(lines[1], `[ERROR]`) || !strings.Contains(lines[1], `{"code":7}`) {
		t.Errorf("object arg not JSON-encoded: %q", lines[1])
	}
}

func TestConsoleNilArg(t *testing.T) {
	c := NewConsole(1 << 20)
	c.Capture("LOG", nil)
	if lines := c.Lines(); !strings.HasSuffix(lines[0], "null") {
		t.Errorf("nil arg = %q, want trailing null", lines[0])
	}
}

func TestConsoleTruncationSticky(t *testing.T) {
	c := NewConsole(200)
	c.clock = fixedClock

	long := strings.Repeat("x", 120)
	c.Capture("LOG", long) // fits
	c.Capture("LOG", long) // exceeds: sentinel
	c.Capture("LOG", "after")

	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (content + sentinel)", len(lines))
	}
	if lines[1] != TruncationSentinel {
		t.Errorf("last line = %q, want sentinel", lines[1])
	}

	// No further growth after the sentinel.
	size := c.Size()
	c.Capture("LOG", "more")
	if c.Size() != size {
		t.Error("console grew after truncation")
	}
}

func TestConsoleTruncatedSizeWithinMax(t *testing.T) {
	c := NewConsole(100)
	c.clock = fixedClock

	c.Capture("LOG", strings.Repeat("a", 20))
	c.Capture("LOG", strings.Repeat("b", 500))

	lines := c.Lines()
	if lines[len(lines)-1] != TruncationSentinel {
		t.Fatalf("last line = %q, want sentinel", lines[len(lines)-1])
	}
	if c.Size() > 100 {
		t.Errorf("post-truncation size = %d, want <= 100", c.Size())
	}
}
