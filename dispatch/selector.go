package dispatch

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rapp-os/brainstem/core/protocol"
)

// Selection names one capability to invoke and its arguments.
type Selection struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// SelectionRequest is everything a Selector may use to choose capabilities.
// Capabilities holds only those the context allows.
type SelectionRequest struct {
	Input        string                `json:"input"`
	History      []protocol.Message    `json:"history"`
	Conversation []protocol.Message    `json:"conversation"`
	ContextID    string                `json:"context_guid"`
	SystemPrompt string                `json:"system_prompt"`
	Parameters   map[string]any        `json:"config"`
	Memory       string                `json:"memory,omitempty"`
	Capabilities []protocol.Capability `json:"capabilities"`
}

// Selector decides which capabilities a turn invokes. Returning no
// selections is valid; the composer then lists what is available.
type Selector interface {
	Select(ctx context.Context, req SelectionRequest) ([]Selection, error)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(ctx context.Context, req SelectionRequest) ([]Selection, error)

func (f SelectorFunc) Select(ctx context.Context, req SelectionRequest) ([]Selection, error) {
	return f(ctx, req)
}

// RuleSelector selects deterministically from the input text.
//
// Lines of the form "/Name {json}" select Name with the decoded arguments.
// When the input has no such lines, every capability whose name appears as
// a whole word (ignoring case) is selected with {"action": "help",
// "request": input}.
type RuleSelector struct{}

func (RuleSelector) Select(_ context.Context, req SelectionRequest) ([]Selection, error) {
	if sels := commandSelections(req); len(sels) > 0 {
		return sels, nil
	}

	var sels []Selection
	for _, c := range req.Capabilities {
		if mentions(req.Input, c.Name) {
			sels = append(sels, Selection{
				Name:      c.Name,
				Arguments: map[string]any{"action": "help", "request": req.Input},
			})
		}
	}
	return sels, nil
}

func commandSelections(req SelectionRequest) []Selection {
	var sels []Selection
	for _, line := range strings.Split(req.Input, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[0] != '/' {
			continue
		}

		name, rest, _ := strings.Cut(line[1:], " ")
		if name == "" {
			continue
		}
		rest = strings.TrimSpace(rest)

		// Canonical casing comes from the allowed list; unknown names are
		// kept so the dispatcher can trace why they were dropped.
		for _, c := range req.Capabilities {
			if strings.EqualFold(c.Name, name) {
				name = c.Name
				break
			}
		}

		args := map[string]any{}
		if strings.HasPrefix(rest, "{") {
			if err := json.Unmarshal([]byte(rest), &args); err != nil {
				args = map[string]any{"request": rest}
			}
		} else if rest != "" {
			args = map[string]any{"action": "help", "request": rest}
		} else {
			args = map[string]any{"action": "help", "request": req.Input}
		}
		sels = append(sels, Selection{Name: name, Arguments: args})
	}
	return sels
}

func mentions(input, name string) bool {
	if name == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)(^|[^\pL\pN_])` + regexp.QuoteMeta(name) + `($|[^\pL\pN_])`)
	if err != nil {
		return false
	}
	return re.MatchString(input)
}
