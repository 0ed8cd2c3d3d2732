package orchestrator

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLogger_Error_IncludesLevelAndArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := &StdLogger{Logger: log.New(&buf, "", 0)}

	logger.Error("stt connect failed", "call_id", "call-1")

	out := buf.String()
	if !strings.Contains(out, "[ERROR]") {
		t.Fatalf("expected level prefix in output, got %q", out)
	}
	if !strings.Contains(out, "stt connect failed") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "call-1") {
		t.Fatalf("expected args rendered in output, got %q", out)
	}
}

func TestStdLogger_Info_NoArgsOmitsTrailingBracket(t *testing.T) {
	var buf bytes.Buffer
	logger := &StdLogger{Logger: log.New(&buf, "", 0)}

	logger.Info("call answered")

	out := buf.String()
	if out != "[INFO] call answered\n" {
		t.Fatalf("expected plain message with level prefix, got %q", out)
	}
}

func TestNoOpLogger_NeverPanics(t *testing.T) {
	var l Logger = &NoOpLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}
