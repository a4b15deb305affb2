package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TruncationSentinel is appended once when captured output hits the cap.
const TruncationSentinel = "[OUTPUT TRUNCATED - exceeded maximum size]"

const consoleTimeLayout = "2006-01-02T15:04:05.000Z"

// Console captures template log lines with a hard size bound. Truncation
// is sticky: once the sentinel is pushed, further captures are dropped.
type Console struct {
	mu        sync.Mutex
	lines     []string
	size      int
	max       int
	truncated bool
	clock     func() time.Time
}

// NewConsole creates a capture buffer bounded at maxBytes.
func NewConsole(maxBytes int) *Console {
	return &Console{max: maxBytes, clock: time.Now}
}

// Capture formats and appends one line: "[ISO8601] [SEVERITY] args...".
// Severity is one of LOG, WARN, ERROR, INFO, DEBUG.
func (c *Console) Capture(severity string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.truncated {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s",
		c.clock().UTC().Format(consoleTimeLayout), severity, formatArgs(args))

	// The budget reserves room for the sentinel so the total stays within
	// max even after truncation trips.
	if c.size+len(line) > c.max-len(TruncationSentinel) {
		c.lines = append(c.lines, TruncationSentinel)
		c.size += len(TruncationSentinel)
		c.truncated = true
		return
	}

	c.lines = append(c.lines, line)
	c.size += len(line)
}

// Lines returns a copy of the captured lines so far.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Size returns the total captured byte count.
func (c *Console) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// formatArgs space-joins arguments; strings pass through, everything else
// is JSON-stringified with a plain-print fallback.
func formatArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			parts = append(parts, "null")
		case string:
			parts = append(parts, v)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			} else {
				parts = append(parts, fmt.Sprint(v))
			}
		}
	}
	return strings.Join(parts, " ")
}
