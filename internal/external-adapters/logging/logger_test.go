package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ochairo/geiger/internal/domain/interfaces"
)

func TestLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("Scan complete", interfaces.F("findings", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug entries should be suppressed by default")
	}
	if !strings.Contains(out, "Scan complete") || !strings.Contains(out, "findings=3") {
		t.Errorf("output = %q", out)
	}
}

func TestLogger_JSONAndDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf, Debug: true, Format: "JSON"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.With(interfaces.F("scan", "abc")).Debug("Engine run", interfaces.F("error", errors.New("exit status 2")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["level"] != "debug" || entry["msg"] != "Engine run" {
		t.Errorf("entry = %v", entry)
	}
	if entry["scan"] != "abc" || entry["error"] != "exit status 2" {
		t.Errorf("fields = %v", entry)
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New() should reject unknown formats")
	}
}

func TestLogger_ImplementsInterface(_ *testing.T) {
	var _ interfaces.Logger = (*Logger)(nil)
}
