package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerFormatsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "TaskService")
	logger.Info("claimed %s", "task-1")

	line := buf.String()
	if !strings.Contains(line, "[TaskService]") {
		t.Fatalf("expected component tag, got %q", line)
	}
	if !strings.Contains(line, "claimed task-1") {
		t.Fatalf("expected formatted message, got %q", line)
	}
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *writerLogger
	logger := OrNop(typed)
	// Must not panic.
	logger.Info("ignored")
	if logger == Logger(typed) {
		t.Fatal("expected nop replacement for typed nil")
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := Multi(NewWriterLogger(&a, "x"), nil, NewWriterLogger(&b, "y"))
	logger.Warn("w")
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("expected both writers to receive output: a=%d b=%d", a.Len(), b.Len())
	}
}
