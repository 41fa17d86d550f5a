package observability_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rapp-os/brainstem/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  slog.Level
	}{
		{name: "verbose maps to Debug", level: observability.LevelVerbose, want: slog.LevelDebug},
		{name: "info maps to Info", level: observability.LevelInfo, want: slog.LevelInfo},
		{name: "warning maps to Warn", level: observability.LevelWarning, want: slog.LevelWarn},
		{name: "error maps to Error", level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.want {
				t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_OTelAlignment(t *testing.T) {
	if observability.LevelVerbose != 5 {
		t.Errorf("LevelVerbose = %d, want 5 (OTel DEBUG range)", observability.LevelVerbose)
	}
	if observability.LevelInfo != 9 {
		t.Errorf("LevelInfo = %d, want 9 (OTel INFO range)", observability.LevelInfo)
	}
	if observability.LevelWarning != 13 {
		t.Errorf("LevelWarning = %d, want 13 (OTel WARN range)", observability.LevelWarning)
	}
	if observability.LevelError != 17 {
		t.Errorf("LevelError = %d, want 17 (OTel ERROR range)", observability.LevelError)
	}
}

func TestNoOpObserver(t *testing.T) {
	obs := observability.NoOpObserver{}
	obs.OnEvent(context.Background(), observability.Event{
		Type:      "test.event",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "test",
		Data:      map[string]any{"key": "value"},
	})
}

func TestMultiObserver(t *testing.T) {
	var events1, events2 []observability.Event

	obs1 := &captureObserver{events: &events1}
	obs2 := &captureObserver{events: &events2}

	multi := observability.NewMultiObserver(obs1, obs2)

	event := observability.Event{
		Type:      "test.event",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "test",
		Data:      map[string]any{"key": "value"},
	}

	multi.OnEvent(context.Background(), event)

	if len(events1) != 1 {
		t.Errorf("observer 1 received %d events, want 1", len(events1))
	}
	if len(events2) != 1 {
		t.Errorf("observer 2 received %d events, want 1", len(events2))
	}
	if events1[0].Type != "test.event" {
		t.Errorf("observer 1 event type = %q, want %q", events1[0].Type, "test.event")
	}
}

func TestMultiObserver_NilFiltering(t *testing.T) {
	var events []observability.Event
	obs := &captureObserver{events: &events}

	multi := observability.NewMultiObserver(nil, obs, nil)

	multi.OnEvent(context.Background(), observability.Event{
		Type:  "test.event",
		Level: observability.LevelInfo,
	})

	if len(events) != 1 {
		t.Errorf("received %d events, want 1 (nil observers should be filtered)", len(events))
	}
}

func TestMultiObserver_Flattening(t *testing.T) {
	var events []observability.Event
	obs := &captureObserver{events: &events}

	inner := observability.NewMultiObserver(obs, observability.NoOpObserver{})
	outer := observability.NewMultiObserver(inner, obs, observability.NoOpObserver{})

	if outer.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", outer.Len())
	}
	outer.OnEvent(context.Background(), observability.Event{Type: "test.event"})
	if len(events) != 2 {
		t.Errorf("received %d events, want 2", len(events))
	}
}

func TestCombine(t *testing.T) {
	var events []observability.Event
	obs := &captureObserver{events: &events}

	tests := []struct {
		name      string
		observers []observability.Observer
		wantType  string
	}{
		{name: "nothing", observers: nil, wantType: "observability.NoOpObserver"},
		{name: "only no-ops", observers: []observability.Observer{nil, observability.NoOpObserver{}}, wantType: "observability.NoOpObserver"},
		{name: "single", observers: []observability.Observer{observability.NoOpObserver{}, obs}, wantType: "*observability_test.captureObserver"},
		{name: "several", observers: []observability.Observer{obs, observability.NewRecorder(0)}, wantType: "*observability.MultiObserver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := observability.Combine(tt.observers...)
			if typ := fmt.Sprintf("%T", got); typ != tt.wantType {
				t.Errorf("Combine() = %s, want %s", typ, tt.wantType)
			}
		})
	}
}

func TestSlogObserver_RecordShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
		Type:      "capability.reload.complete",
		Level:     observability.LevelInfo,
		Timestamp: ts,
		Source:    "capability.Reload",
		Data:      map[string]any{"loaded": 3, "failed": 1, "generation": 2},
	})

	want := `time=2026-01-02T03:04:05.000Z level=INFO msg=capability.reload.complete source=capability.Reload failed=1 generation=2 loaded=3` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSlogObserver_LevelMapping(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "info at info handler", level: observability.LevelInfo, minLevel: slog.LevelInfo, expectLog: true},
		{name: "info at warn handler", level: observability.LevelInfo, minLevel: slog.LevelWarn, expectLog: false},
		{name: "warning at warn handler", level: observability.LevelWarning, minLevel: slog.LevelWarn, expectLog: true},
		{name: "error at error handler", level: observability.LevelError, minLevel: slog.LevelError, expectLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
				Level: tt.minLevel,
			}))

			obs := observability.NewSlogObserver(logger)
			obs.OnEvent(context.Background(), observability.Event{
				Type:      "test.event",
				Level:     tt.level,
				Timestamp: time.Now(),
				Source:    "test",
			})

			hasOutput := buf.Len() > 0
			if hasOutput != tt.expectLog {
				t.Errorf("log output = %v, want %v (buf: %q)", hasOutput, tt.expectLog, buf.String())
			}
		})
	}
}

func TestSlogObserver_EventTypeAsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	obs := observability.NewSlogObserver(logger)
	obs.OnEvent(context.Background(), observability.Event{
		Type:      "dispatch.phase",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "dispatch.Handle",
		Data: map[string]any{
			"invocations": 2,
		},
	})

	output := buf.String()
	if !strings.Contains(output, "dispatch.phase") {
		t.Errorf("expected event type as log message, got: %s", output)
	}
	if !strings.Contains(output, "source=dispatch.Handle") {
		t.Errorf("expected source attribute, got: %s", output)
	}
	if !strings.Contains(output, "invocations=2") {
		t.Errorf("expected data attributes, got: %s", output)
	}
}

func TestRegistry_GetObserver(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "noop exists", key: "noop", wantErr: false},
		{name: "slog exists", key: "slog", wantErr: false},
		{name: "unknown fails", key: "nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := observability.GetObserver(tt.key, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetObserver(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if !tt.wantErr && obs == nil {
				t.Errorf("GetObserver(%q) returned nil observer", tt.key)
			}
		})
	}
}

func TestRegistry_SlogBindsLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	obs, err := observability.GetObserver("slog", logger)
	if err != nil {
		t.Fatalf("GetObserver failed: %v", err)
	}
	obs.OnEvent(context.Background(), observability.Event{Type: "test.event", Level: observability.LevelInfo})

	if !strings.Contains(buf.String(), "test.event") {
		t.Errorf("event not written to supplied logger: %q", buf.String())
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	rec := observability.NewRecorder(0)
	observability.RegisterObserver("test-custom", func(*slog.Logger) observability.Observer { return rec })

	obs, err := observability.GetObserver("test-custom", nil)
	if err != nil {
		t.Fatalf("GetObserver failed: %v", err)
	}

	obs.OnEvent(context.Background(), observability.Event{
		Type:  "test.event",
		Level: observability.LevelInfo,
	})

	if got := rec.Count("test.event"); got != 1 {
		t.Errorf("received %d events, want 1", got)
	}
	if !slices.Contains(observability.Observers(), "test-custom") {
		t.Errorf("Observers() = %v, missing test-custom", observability.Observers())
	}
}

func TestRecorder_Limit(t *testing.T) {
	rec := observability.NewRecorder(2)
	for _, typ := range []observability.EventType{"a", "b", "c"} {
		rec.OnEvent(context.Background(), observability.Event{Type: typ})
	}

	got := rec.Types()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Types() = %v, want [b c]", got)
	}
}

type captureObserver struct {
	events *[]observability.Event
}

func (c *captureObserver) OnEvent(ctx context.Context, event observability.Event) {
	*c.events = append(*c.events, event)
}
