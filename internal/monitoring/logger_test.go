package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	defer SetLogger(nil)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Logf("frame %d delivered", 7)
	if len(got) != 1 || got[0] != "frame 7 delivered" {
		t.Errorf("captured = %v", got)
	}
}

func TestSetLoggerNilSilences(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("dropped on the floor %d", 1)
}
