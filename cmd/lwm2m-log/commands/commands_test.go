package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.rlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

// sessionLog is a short registration: Register, its response, a stray
// duplicate and the state change it caused.
func sessionLog() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	register := wire.OpRegister
	success := wire.StatusSuccess
	rtt := 12 * time.Millisecond

	return []log.Event{
		{
			Timestamp: ts,
			SessionID: "3f2a9c1e-0000-4000-8000-000000000001",
			Endpoint:  "node-1",
			Server:    "primary",
			Direction: log.DirectionOut,
			Layer:     log.LayerExchange,
			Category:  log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:      coap.Confirmable,
				Code:      coap.POST,
				MessageID: 100,
				Token:     []byte{1, 2, 3, 4},
				Operation: &register,
				URI:       "/rd?lwm2m=1.0&ep=node-1&lt=86400",
				Payload:   "</1/0>,</3/0>",
			},
		},
		{
			Timestamp: ts.Add(rtt),
			SessionID: "3f2a9c1e-0000-4000-8000-000000000001",
			Server:    "primary",
			Direction: log.DirectionIn,
			Layer:     log.LayerExchange,
			Category:  log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:      coap.Acknowledgement,
				Code:      coap.NewCode(2, 1),
				MessageID: 100,
				Token:     []byte{1, 2, 3, 4},
				Status:    &success,
				RoundTrip: &rtt,
			},
		},
		{
			Timestamp: ts.Add(2 * rtt),
			SessionID: "3f2a9c1e-0000-4000-8000-000000000001",
			Server:    "primary",
			Direction: log.DirectionIn,
			Layer:     log.LayerExchange,
			Category:  log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:      coap.Acknowledgement,
				Code:      coap.NewCode(2, 1),
				MessageID: 100,
				Stray:     true,
			},
		},
		{
			Timestamp: ts.Add(rtt),
			SessionID: "3f2a9c1e-0000-4000-8000-000000000001",
			Server:    "primary",
			Direction: log.DirectionNone,
			Layer:     log.LayerSession,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntitySession,
				OldState: "REGISTERING",
				NewState: "REGISTERED",
				Reason:   "session.ExchangeSucceeded",
			},
		},
	}
}

func TestViewFormatsMessages(t *testing.T) {
	path := createTestLogFile(t, sessionLog())

	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-02T09:00:00.000000Z [3f2a9c1e] primary OUT  EXCHANGE CON",
		"Code: POST  MessageID: 100  Token: 01020304",
		"Operation: Register",
		"URI: /rd?lwm2m=1.0&ep=node-1&lt=86400",
		"Payload: </1/0>,</3/0>",
		"Status: SUCCESS",
		"Duration: 12.000ms",
		"Stray: no matching exchange",
		"REGISTERING -> REGISTERED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestViewAppliesFilter(t *testing.T) {
	path := createTestLogFile(t, sessionLog())

	filter, err := BuildFilter(FilterOptions{StraysOnly: true})
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if n := strings.Count(buf.String(), "EXCHANGE ACK"); n != 1 {
		t.Errorf("expected 1 stray event, got %d\n%s", n, buf.String())
	}
	if strings.Contains(buf.String(), "Operation: Register") {
		t.Error("request should have been filtered out")
	}
}

func TestBuildFilterRejectsInvalidValues(t *testing.T) {
	cases := []FilterOptions{
		{Layer: "wire"},
		{Direction: "sideways"},
		{Category: "control"},
		{Operation: "read"},
		{TimeStart: "yesterday"},
		{TimeEnd: "2026-13-01"},
	}
	for _, opts := range cases {
		if _, err := BuildFilter(opts); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}

func TestBuildFilterParsesValues(t *testing.T) {
	filter, err := BuildFilter(FilterOptions{
		Layer:     "Exchange",
		Direction: "OUT",
		Category:  "message",
		Operation: "update",
		TimeStart: "2026-03-02T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if filter.Layer == nil || *filter.Layer != log.LayerExchange {
		t.Errorf("layer = %v", filter.Layer)
	}
	if filter.Direction == nil || *filter.Direction != log.DirectionOut {
		t.Errorf("direction = %v", filter.Direction)
	}
	if filter.Operation == nil || *filter.Operation != wire.OpUpdate {
		t.Errorf("operation = %v", filter.Operation)
	}
	if filter.TimeStart == nil {
		t.Error("time start not set")
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestLogFile(t, sessionLog())
	output := filepath.Join(t.TempDir(), "out.rlog")

	count, err := RunFilter(path, FilterOptions{Output: output, Layer: "session"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.StateChange == nil || event.StateChange.NewState != "REGISTERED" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestStatsSummarizesSessions(t *testing.T) {
	path := createTestLogFile(t, sessionLog())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Events: 4",
		"EXCHANGE:",
		"SESSION:",
		"Sessions: 1",
		"Server: primary",
		"Endpoint: node-1",
		"Register: 1",
		"Strays: 1",
		"State: REGISTERED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sessionLog())
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if err := export(reader, "jsonl", &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	lines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 4 {
		t.Errorf("expected 4 lines, got %d", lines)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sessionLog())
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if err := export(reader, "csv", &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected header and 4 rows, got %d", len(records))
	}
	first := records[1]
	if first[1] != "3f2a9c1e-0000-4000-8000-000000000001" || first[6] != "CON" || first[7] != "POST" || first[9] != "Register" {
		t.Errorf("unexpected row: %v", first)
	}
	if records[3][10] != "true" {
		t.Errorf("stray column = %q", records[3][10])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, nil)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
