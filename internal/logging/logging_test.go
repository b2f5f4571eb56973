package logging

import (
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := levelFromString(tc.in); got != tc.want {
			t.Errorf("levelFromString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithRunToleratesNilLogger(t *testing.T) {
	t.Parallel()

	if WithRun(nil, "run-1") == nil {
		t.Fatalf("expected a usable logger")
	}
}
