package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/lwm2m-go/regsync/pkg/wire"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.rlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, event)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), SessionID: "s-1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), SessionID: "s-2", Direction: DirectionIn, Layer: LayerExchange, Category: CategoryMessage},
		{Timestamp: time.Now(), SessionID: "s-3", Direction: DirectionNone, Layer: LayerSession, Category: CategoryState},
	}

	reader, err := NewReader(createTestLogFile(t, events))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readAll(t, reader)
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[0].SessionID != "s-1" || read[2].SessionID != "s-3" {
		t.Errorf("unexpected order: %q .. %q", read[0].SessionID, read[2].SessionID)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	reader, err := NewReader(createTestLogFile(t, nil))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestReaderFilters(t *testing.T) {
	update := wire.OpUpdate
	register := wire.OpRegister
	now := time.Now()
	events := []Event{
		{Timestamp: now, SessionID: "a", Endpoint: "ep-1", Category: CategoryMessage, Message: &MessageEvent{Operation: &register}},
		{Timestamp: now.Add(time.Second), SessionID: "a", Endpoint: "ep-1", Category: CategoryMessage, Message: &MessageEvent{Operation: &update}},
		{Timestamp: now.Add(2 * time.Second), SessionID: "b", Endpoint: "ep-2", Category: CategoryMessage, Message: &MessageEvent{Stray: true}},
		{Timestamp: now.Add(3 * time.Second), SessionID: "b", Endpoint: "ep-2", Category: CategoryState, StateChange: &StateChangeEvent{NewState: "REGISTERED"}},
	}
	path := createTestLogFile(t, events)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"Session", Filter{SessionID: "a"}, 2},
		{"Endpoint", Filter{Endpoint: "ep-2"}, 2},
		{"Operation", Filter{Operation: &update}, 1},
		{"Strays", Filter{StraysOnly: true}, 1},
		{"TimeWindow", Filter{TimeStart: ptr(now.Add(time.Second)), TimeEnd: ptr(now.Add(3 * time.Second))}, 2},
		{"Category", Filter{Category: ptr(CategoryState)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}
