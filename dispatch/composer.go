package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rapp-os/brainstem/capability"
)

// VoiceMarker separates display text from the spoken variant in a response.
const VoiceMarker = "|||VOICE|||"

// Composition is the composer's input: outcomes in selection order plus the
// capabilities the context could have used.
type Composition struct {
	Outcomes  []capability.Outcome
	Available []string
}

// Composer folds outcomes into response text and trace lines.
type Composer interface {
	Compose(c Composition) (text string, trace []string)
}

// TraceComposer joins successful outputs and records one trace line per
// outcome, truncating output to Limit bytes.
type TraceComposer struct {
	Limit int
}

func (t TraceComposer) Compose(c Composition) (string, []string) {
	trace := make([]string, 0, len(c.Outcomes))
	var (
		outputs  []string
		failures []string
	)

	for _, o := range c.Outcomes {
		if o.Succeeded() {
			trace = append(trace, fmt.Sprintf("%s: %s...", o.Name, truncate(o.Output, t.Limit)))
			if strings.TrimSpace(o.Output) != "" {
				outputs = append(outputs, o.Output)
			}
			continue
		}
		trace = append(trace, fmt.Sprintf("%s error: %s", o.Name, o.Error))
		failures = append(failures, fmt.Sprintf("%s (%s)", o.Name, o.Error))
	}

	switch {
	case len(outputs) > 0:
		return strings.Join(outputs, "\n\n"), trace
	case len(failures) > 0:
		return "Agent error: " + strings.Join(failures, "; "), trace
	case len(c.Available) > 0:
		return "Available agents: " + strings.Join(c.Available, ", "), trace
	default:
		return "No agents are available in this context.", trace
	}
}

// splitVoice separates the display and voice parts of text. Without a
// marker the voice part is empty.
func splitVoice(text string) (display, voice string) {
	if !strings.Contains(text, VoiceMarker) {
		return text, ""
	}
	parts := strings.Split(text, VoiceMarker)
	display = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		voice = strings.TrimSpace(parts[1])
	}
	return display, voice
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

