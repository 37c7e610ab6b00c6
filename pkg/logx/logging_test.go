package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"verbose", zerolog.InfoLevel}, // unknown falls back to the default
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	// Must not panic.
	l.Info("dropped")
	l.With(String("k", "v")).Error("dropped too")

	n := Nop()
	if n.IsZero() {
		t.Fatal("Nop() is a real (discarding) logger, not a zero value")
	}
	n.Warn("dropped")
}

func TestServiceApplySwitchesLevel(t *testing.T) {
	svc, log := New(Config{Level: "error", Console: true})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at error level")
	}
	svc.Apply(Config{Level: "debug", Console: true})
	if !log.Enabled(LevelDebug) {
		t.Fatal("Apply did not take effect on a live logger")
	}
}
