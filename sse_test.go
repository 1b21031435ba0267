package bridge

import (
	"strings"
	"testing"
)

func TestScanSSE_SingleEvent(t *testing.T) {
	body := "id: 1\ndata: hello\n\n"

	var got []sseEvent
	if err := scanSSE(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].id != "1" || got[0].data != "hello" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestScanSSE_MultipleEventsAndHeartbeat(t *testing.T) {
	body := "id: 1\ndata: {\"a\":1}\n\n" +
		"data: heartbeat\n\n" +
		"id: 2\ndata: {\"a\":2}\n\n"

	var got []sseEvent
	if err := scanSSE(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[1].data != "heartbeat" {
		t.Fatalf("expected heartbeat frame, got %q", got[1].data)
	}
	if got[2].id != "2" {
		t.Fatalf("expected third event id 2, got %q", got[2].id)
	}
}

func TestScanSSE_MultilineData(t *testing.T) {
	body := "data: line one\ndata: line two\n\n"

	var got []sseEvent
	if err := scanSSE(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}

	if len(got) != 1 || got[0].data != "line one\nline two" {
		t.Fatalf("unexpected multiline event: %+v", got)
	}
}

func TestScanSSE_SkipsCommentLines(t *testing.T) {
	body := ": keep-alive\nid: 1\ndata: hi\n\n"

	var got []sseEvent
	if err := scanSSE(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}

	if len(got) != 1 || got[0].data != "hi" {
		t.Fatalf("unexpected events after comment line: %+v", got)
	}
}

func TestScanSSE_FlushesTrailingEventWithoutBlankLine(t *testing.T) {
	body := "id: 1\ndata: last"

	var got []sseEvent
	if err := scanSSE(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("scanSSE: %v", err)
	}

	if len(got) != 1 || got[0].data != "last" {
		t.Fatalf("expected the trailing unterminated event to flush, got %+v", got)
	}
}

func TestSSESubscription_CloseIsIdempotent(t *testing.T) {
	sub := newSSESubscription(nil, func() {})
	sub.markOpen()

	if sub.State() != subOpen {
		t.Fatalf("expected subOpen after markOpen, got %v", sub.State())
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sub.State() != subClosed {
		t.Fatalf("expected subClosed, got %v", sub.State())
	}
}

func TestSSESubscription_MarkOpenAfterCloseIsNoop(t *testing.T) {
	sub := newSSESubscription(nil, func() {})
	sub.Close()
	sub.markOpen()

	if sub.State() != subClosed {
		t.Fatalf("expected markOpen to be a no-op after Close, got %v", sub.State())
	}
}
