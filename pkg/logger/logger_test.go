package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/markdave123-py/diagnovet/internal/config"
)

func TestNewWritesNamedJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")
	log, err := New(config.LogConfig{Level: "info", Format: "json", OutputPath: path}, "staging")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Named("ingest").Info("ingest.started")
	log.Debug("below level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["logger"] != "diagnovet.ingest" || entry["service"] != "diagnovet" || entry["env"] != "staging" {
		t.Fatalf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts: %v", entry)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"level", config.LogConfig{Level: "loud", Format: "json"}, "log level"},
		{"format", config.LogConfig{Level: "info", Format: "xml"}, "LOG_FORMAT"},
		{"output url", config.LogConfig{Level: "info", Format: "json", OutputPath: "http://collector:9000"}, "LOG_OUTPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, "development")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestOutputPathDefaults(t *testing.T) {
	for in, want := range map[string]string{"": "stdout", " stdout ": "stdout", "stderr": "stderr"} {
		got, err := outputPath(in)
		if err != nil || got != want {
			t.Fatalf("outputPath(%q) = %q, %v", in, got, err)
		}
	}
}
