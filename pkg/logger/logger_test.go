package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	l := New(LoggingConfig{Level: "debug", Format: "json", Output: "discard"})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", l.Formatter)
	}
}

func TestNewFallsBackOnInvalidLevel(t *testing.T) {
	l := New(LoggingConfig{Level: "chatty", Output: "discard"})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", l.GetLevel())
	}
}

func TestComponentFieldAttached(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggingConfig{Level: "info", Format: "json"})
	l.SetOutput(&buf)
	named := l.Named("evolution")

	named.WithField("user_id", "u-1").Info("evolved")

	var payload map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if payload["component"] != "evolution" {
		t.Fatalf("expected component field, got %v", payload["component"])
	}
	if payload["user_id"] != "u-1" {
		t.Fatalf("expected user_id field, got %v", payload["user_id"])
	}
}

func TestNewDefaultComponent(t *testing.T) {
	l := NewDefault("claims")
	if l.Component() != "claims" {
		t.Fatalf("unexpected component %q", l.Component())
	}
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.WithError(assertErr("boom")).Warn("failed")
	if !strings.Contains(buf.String(), "component=claims") {
		t.Fatalf("expected component in output: %s", buf.String())
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
