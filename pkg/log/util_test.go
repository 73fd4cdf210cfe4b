package log

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
	}{
		{"empty input", []any{}},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}},
		{"time type", []any{"t", now}},
		{"duration", []any{"settle", 250 * time.Millisecond}},
		{"float type", []any{"x", 3.14}},
		{"bytes", []any{"data", []byte("xyz")}},
		{"sample values", []any{"values", []float64{0.1, 0.2}, "channels", []string{"a", "b"}}},
		{"error only", []any{err}},
		{"multiple errors", []any{err, errors.New("again")}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}},
		{"odd number of args", []any{"key1", "val1", "key2"}},
		{"non-string key", []any{123, "value", true, 99}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}},
		{"map value", []any{"a", map[string]string{"xyz": "123"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if fields == nil && len(tt.input) > 0 {
				t.Errorf("nil fields for non-empty input: %v", tt.input)
			}

			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr int
	}{
		{"defaults", func(o *Options) {}, 0},
		{"json format", func(o *Options) { o.Format = "json" }, 0},
		{"bad level", func(o *Options) { o.Level = "loud" }, 1},
		{"bad format", func(o *Options) { o.Format = "xml" }, 1},
		{"everything wrong", func(o *Options) { o.Level = "x"; o.Format = "y"; o.CallerSkip = -1 }, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			if got := len(o.Validate()); got != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d", got, tt.wantErr)
			}
		})
	}
}

func TestNewLoggerJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	opts := NewOptions()
	opts.Format = "json"
	opts.Name = "stage"
	opts.OutputPaths = []string{path}

	l := NewLogger(opts).WithName("motion").WithValues("axis", "stage-0")
	l.Info("scan started", "total", 9)
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, data)
	}

	if entry["logger"] != "stage.motion" {
		t.Errorf("logger = %v, want stage.motion", entry["logger"])
	}
	if entry["axis"] != "stage-0" {
		t.Errorf("axis = %v, want stage-0", entry["axis"])
	}
	if entry["total"] != float64(9) {
		t.Errorf("total = %v, want 9", entry["total"])
	}
}

func TestColorCapableRejectsFiles(t *testing.T) {
	if colorCapable([]string{"/var/log/aefi.log"}) {
		t.Error("file sinks must never be treated as terminals")
	}
}
