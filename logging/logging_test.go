package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"phonesim/config"

	"github.com/sirupsen/logrus"
)

func TestNewLevelAndFormat(t *testing.T) {
	l := New(&config.LoggingConfig{Level: "debug", Format: "json"})
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", l.Formatter)
	}

	l = New(&config.LoggingConfig{Level: "nonsense"})
	if l.GetLevel() != logrus.InfoLevel {
		t.Errorf("fallback level = %v, want info", l.GetLevel())
	}
}

func TestLogErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	LogError(l, "procurement", "order parts", map[string]int{"qty": 300}, errors.New("supplier down"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["module"] != "procurement" || entry["op"] != "order parts" || entry["msg"] != "supplier down" {
		t.Errorf("entry = %v", entry)
	}
	if entry["data"] == nil {
		t.Error("data field missing")
	}
}
