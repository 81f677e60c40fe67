package debug

import (
	"bytes"
	"io"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env enabled", true, false, true},
		{"verbose enabled", false, true, true},
		{"disabled", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

			enabled = tt.env
			verboseMode = tt.verbose

			if got := Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w
	fn()
	w.Close()
	os.Stderr = oldStderr

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestLogf(t *testing.T) {
	oldEnabled := enabled
	defer func() { enabled = oldEnabled }()

	enabled = true
	if got := captureStderr(t, func() { Logf("probe %s\n", "firestore") }); got != "probe firestore\n" {
		t.Errorf("Logf enabled output = %q", got)
	}

	enabled = false
	if got := captureStderr(t, func() { Logf("probe %s\n", "firestore") }); got != "" {
		t.Errorf("Logf disabled output = %q, want empty", got)
	}
}

func TestQuietLoggerIsNop(t *testing.T) {
	defer SetQuiet(false)
	SetQuiet(true)
	if !IsQuiet() {
		t.Fatal("IsQuiet() = false after SetQuiet(true)")
	}
	if Logger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("quiet logger should not be enabled at any level")
	}
}

func TestVerboseLoggerLevel(t *testing.T) {
	defer SetVerbose(false)

	SetVerbose(false)
	if Logger().Core().Enabled(zapcore.InfoLevel) && !enabled {
		t.Error("default logger should not log info")
	}

	SetVerbose(true)
	if !Logger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should log debug")
	}
}

func TestSetLogger(t *testing.T) {
	defer resetLogger()
	nop := zap.NewNop()
	SetLogger(nop)
	if Logger() != nop {
		t.Error("Logger() did not return the injected logger")
	}
}
