package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestErrorCarriesContextFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOperatorID(ctx, "op-9")
	log.Error(ctx, "label purchase failed", errors.New("boom"))

	out := buf.Bytes()
	for _, field := range []string{`"request_id"`, `"operator_id"`, `"stack"`, `"service":"test"`} {
		if !bytes.Contains(out, []byte(field)) {
			t.Fatalf("missing %s in entry %s", field, buf.String())
		}
	}
}

func TestWarnStackToggle(t *testing.T) {
	t.Parallel()

	quiet := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: quiet}).Warn(context.Background(), "no stack")
	if bytes.Contains(quiet.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("stack emitted without WarnStack: %s", quiet.String())
	}

	loud := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: loud, WarnStack: true}).Warn(context.Background(), "with stack")
	if !bytes.Contains(loud.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("WarnStack did not emit a stack: %s", loud.String())
	}
}

func TestFieldsDoNotLeakAcrossContexts(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	_ = log.WithField(context.Background(), "job", "reservation-sweep")
	log.Info(context.Background(), "plain")

	if bytes.Contains(buf.Bytes(), []byte(`"job"`)) {
		t.Fatalf("field from another context leaked: %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	t.Parallel()

	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("empty level = %v, want info", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level = %v, want info", lvl)
	}
	if lvl := ParseLevel("warn"); lvl != zerolog.WarnLevel {
		t.Fatalf("warn level = %v", lvl)
	}
}
