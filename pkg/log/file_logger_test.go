package log

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

func TestFileLoggerCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
	if logger.Path() != path {
		t.Errorf("Path = %q, want %q", logger.Path(), path)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	op := wire.OpUpdate
	logger.Log(Event{
		Timestamp: time.Now(),
		SessionID: "session-1",
		Direction: DirectionOut,
		Layer:     LayerExchange,
		Category:  CategoryMessage,
		Message: &MessageEvent{
			Type:      coap.Confirmable,
			Code:      coap.POST,
			MessageID: 4711,
			Token:     []byte{1, 2, 3, 4},
			Operation: &op,
			URI:       "/rd/X",
			Payload:   "</0/0>,</1/0>",
		},
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	event, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if event.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want %q", event.SessionID, "session-1")
	}
	if event.Message == nil {
		t.Fatal("Message is nil")
	}
	if event.Message.MessageID != 4711 {
		t.Errorf("MessageID = %d, want 4711", event.Message.MessageID)
	}
	if event.Message.Operation == nil || *event.Message.Operation != wire.OpUpdate {
		t.Errorf("Operation = %v, want Update", event.Message.Operation)
	}
	if event.Message.Payload != "</0/0>,</1/0>" {
		t.Errorf("Payload = %q", event.Message.Payload)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "test.rlog"))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	// Logging after close is ignored.
	logger.Log(Event{SessionID: "late"})
	if written, _ := logger.Stats(); written != 0 {
		t.Errorf("written = %d after close, want 0", written)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.rlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(Event{Timestamp: time.Now(), SessionID: "s", Category: CategoryState,
				StateChange: &StateChangeEvent{Entity: StateEntitySession, NewState: "REGISTERED"}})
		}()
	}
	wg.Wait()
	logger.Close()

	if written, failed := logger.Stats(); written != 20 || failed != 0 {
		t.Errorf("Stats = %d, %d; want 20, 0", written, failed)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	n := 0
	for {
		if _, err := reader.Next(); err != nil {
			break
		}
		n++
	}
	if n != 20 {
		t.Errorf("read %d events, want 20", n)
	}
}
