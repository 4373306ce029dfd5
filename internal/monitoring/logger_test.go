package monitoring

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger; it must not panic
	SetLogger(nil)
	Logf("test message %d", 1)
}

func TestCycleLogf_LimitsRepeatedFormats(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := CycleLogf(time.Hour, 2)
	for i := 0; i < 10; i++ {
		logf("buffer overflow %d", i)
	}

	var overflow int
	for _, l := range lines {
		if strings.HasPrefix(l, "buffer overflow") {
			overflow++
		}
	}
	if overflow != 2 {
		t.Errorf("expected 2 overflow lines through the limiter, got %d (%q)", overflow, lines)
	}
}
