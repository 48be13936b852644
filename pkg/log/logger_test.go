package log

import (
	"sync"
	"testing"
	"time"

	"github.com/lwm2m-go/regsync/pkg/coap"
)

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	logger := NoopLogger{}

	event := Event{
		Timestamp: time.Now(),
		SessionID: "test-session",
		Direction: DirectionIn,
		Layer:     LayerTransport,
		Category:  CategoryMessage,
	}
	logger.Log(event)

	event.Datagram = NewDatagramEvent([]byte{1, 2, 3})
	logger.Log(event)

	event.Datagram = nil
	event.Message = &MessageEvent{Type: coap.Confirmable, Code: coap.POST, MessageID: 1}
	logger.Log(event)

	event.Message = nil
	event.StateChange = &StateChangeEvent{Entity: StateEntitySession, NewState: "REGISTERED"}
	logger.Log(event)

	event.StateChange = nil
	event.Error = &ErrorEventData{Message: "test error"}
	logger.Log(event)
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
}

func TestNewDatagramEventTruncates(t *testing.T) {
	small := NewDatagramEvent([]byte{1, 2, 3})
	if small.Size != 3 || small.Truncated {
		t.Errorf("small datagram: size=%d truncated=%v", small.Size, small.Truncated)
	}

	big := NewDatagramEvent(make([]byte, MaxDatagramCapture+10))
	if big.Size != MaxDatagramCapture+10 {
		t.Errorf("Size = %d, want %d", big.Size, MaxDatagramCapture+10)
	}
	if !big.Truncated {
		t.Error("expected Truncated")
	}
	if len(big.Data) != MaxDatagramCapture {
		t.Errorf("len(Data) = %d, want %d", len(big.Data), MaxDatagramCapture)
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{DirectionNone.String(), "NONE"},
		{LayerExchange.String(), "EXCHANGE"},
		{LayerSession.String(), "SESSION"},
		{CategoryState.String(), "STATE"},
		{StateEntitySession.String(), "SESSION"},
		{Layer(99).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	var sessions []string
	fn := LoggerFunc(func(e Event) { sessions = append(sessions, e.SessionID) })
	m := NewMultiLogger(a, nil, b, fn)

	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}

	m.Log(Event{SessionID: "s1"})
	m.Log(Event{SessionID: "s2"})

	if a.count() != 2 || b.count() != 2 {
		t.Errorf("counts = %d, %d; want 2, 2", a.count(), b.count())
	}
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Errorf("func logger saw %v", sessions)
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	m := NewMultiLogger()
	m.Log(Event{})
}
