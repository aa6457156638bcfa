package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "json", cfg: Config{Level: "debug", Format: "json"}},
		{name: "text", cfg: Config{Level: "warn", Format: "text"}},
		{name: "console", cfg: Config{Format: "console"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info record emitted below configured level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn record missing")
	}
}

func TestNewRedactsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Redact: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("claim opened",
		"claimant_email", "jane.doe@example.com",
		"ssn", "123-45-6789",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if got := record["claimant_email"]; got != "***@***" {
		t.Errorf("claimant_email = %q, want redacted", got)
	}
	if got, _ := record["ssn"].(string); strings.Contains(got, "6789") {
		t.Errorf("ssn = %q, want masked", got)
	}
}
