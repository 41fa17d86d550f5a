package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rapp-os/brainstem/core/protocol"
)

func TestCapability_Clone(t *testing.T) {
	orig := protocol.Capability{
		Name:        "Weather",
		Description: "Reports the weather.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"city"},
		},
	}

	clone := orig.Clone()
	props := clone.Parameters["properties"].(map[string]any)
	props["city"].(map[string]any)["type"] = "number"
	clone.Parameters["required"].([]any)[0] = "country"

	origCity := orig.Parameters["properties"].(map[string]any)["city"].(map[string]any)
	if origCity["type"] != "string" {
		t.Errorf("original city type = %v, want string", origCity["type"])
	}
	if got := orig.Parameters["required"].([]any)[0]; got != "city" {
		t.Errorf("original required[0] = %v, want city", got)
	}
}

func TestCloneMap_Nil(t *testing.T) {
	if got := protocol.CloneMap(nil); got != nil {
		t.Errorf("CloneMap(nil) = %v, want nil", got)
	}
}

func TestTurn_Clone(t *testing.T) {
	orig := protocol.Turn{
		Role:         protocol.RoleAssistant,
		Content:      "done",
		Capabilities: []string{"A"},
		Trace:        []string{"A: ok"},
	}

	clone := orig.Clone()
	clone.Capabilities[0] = "B"
	clone.Trace[0] = "B: ok"

	if orig.Capabilities[0] != "A" {
		t.Errorf("Capabilities[0] = %q, want %q", orig.Capabilities[0], "A")
	}
	if orig.Trace[0] != "A: ok" {
		t.Errorf("Trace[0] = %q, want %q", orig.Trace[0], "A: ok")
	}
}

func TestTurn_JSON(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	turn := protocol.Turn{Role: protocol.RoleUser, Content: "hello", Timestamp: ts}

	data, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"role":"user","content":"hello","timestamp":"2026-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestMessages(t *testing.T) {
	turns := []protocol.Turn{
		protocol.NewTurn(protocol.RoleUser, "hi"),
		protocol.NewTurn(protocol.RoleAssistant, "hello"),
	}

	msgs := protocol.Messages(turns)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != protocol.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("msgs[0] = %+v, want user/hi", msgs[0])
	}
	if msgs[1].Role != protocol.RoleAssistant || msgs[1].Content != "hello" {
		t.Errorf("msgs[1] = %+v, want assistant/hello", msgs[1])
	}
}
