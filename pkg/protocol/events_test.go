package protocol

import (
	"bytes"
	"testing"
)

func TestWriterEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Event(Create, "/tmp/x/a"); err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	if err := w.Event(Change, "/tmp/x/a"); err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	expected := "CREATE\n/tmp/x/a\nCHANGE\n/tmp/x/a\n"
	if buf.String() != expected {
		t.Fatalf("output = %q, expected %q", buf.String(), expected)
	}
}

func TestWriterEventSanitizesNewlines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Event(Delete, "/tmp/x/a\nb"); err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	expected := "DELETE\n/tmp/x/a\x00b\n"
	if buf.String() != expected {
		t.Fatalf("output = %q, expected %q", buf.String(), expected)
	}
}

func TestWriterUnwatchableEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Unwatchable(nil); err != nil {
		t.Fatalf("Unwatchable failed: %v", err)
	}
	if buf.String() != "UNWATCHEABLE\n#\n" {
		t.Fatalf("output = %q, expected %q", buf.String(), "UNWATCHEABLE\n#\n")
	}
}

func TestWriterUnwatchableNonEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Unwatchable([]string{"/tmp/x/mnt", "/tmp/y"}); err != nil {
		t.Fatalf("Unwatchable failed: %v", err)
	}
	expected := "UNWATCHEABLE\n/tmp/x/mnt\n/tmp/y\n#\n"
	if buf.String() != expected {
		t.Fatalf("output = %q, expected %q", buf.String(), expected)
	}
}

func TestWriterResetAndGiveup(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Reset()
	w.Giveup()
	if buf.String() != "RESET\nGIVEUP\n" {
		t.Fatalf("output = %q, expected %q", buf.String(), "RESET\nGIVEUP\n")
	}
}

func TestWriterUserMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.UserMessage(WatchLimitText)
	if buf.String() != "MESSAGE\n"+WatchLimitText+"\n" {
		t.Fatalf("output = %q", buf.String())
	}
}
