package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSimLogger_Events(t *testing.T) {
	var buf bytes.Buffer
	l := NewSimLoggerTo(&buf, "run-1")

	l.LogSpawn(2, 10, 1.389, 20, 0)
	l.LogRound(5, 5, 81, 0.95, 12, 4, 3*time.Millisecond)
	l.LogViolation(5, 203, 2)
	l.LogConfigError(errors.New("size must be in [1,100)"))
	l.LogMetrics("step", 0, 0)

	out := buf.String()
	for _, want := range []string{
		"[run-1] ",
		"SPAWN: group=2 size=10",
		"ROUND: round=5 sim_time=5.00 devices=81 consistency=0.950 warnings=12 clusters=4 duration_ms=3.00",
		"VIOLATION: round=5 device=203 group=2",
		`CONFIG_ERROR: error="size must be in [1,100)"`,
		"METRICS: operation=step duration_ms=0.00 count=0 ops_per_sec=0.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
