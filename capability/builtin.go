package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rapp-os/brainstem/core/protocol"
)

// NoteKeeper stores free-text notes per user.
type NoteKeeper interface {
	Recall(ctx context.Context, userID string) (string, error)
	Remember(ctx context.Context, userID, content string) error
}

// MemoryCapability exposes a user's notes. The user is taken from the
// invocation on ctx, never from arguments, so one user cannot read another's
// notes.
func MemoryCapability(notes NoteKeeper) Descriptor {
	return Builtin(protocol.Capability{
		Name:        "Memory",
		Description: "Remember facts about the current user and recall them later.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"description": "Action: 'remember', 'recall', or 'help'.",
					"enum":        []any{"remember", "recall", "help"},
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Text to remember.",
				},
				"request": map[string]any{
					"type":        "string",
					"description": "Original user request.",
				},
			},
			"required": []any{"action"},
		},
	}, HandlerFunc(func(ctx context.Context, args map[string]any) (string, error) {
		inv, ok := InvocationFrom(ctx)
		if !ok || inv.UserID == "" {
			return "", errors.New("no user on invocation")
		}

		switch args["action"] {
		case "remember":
			content, _ := args["content"].(string)
			if content == "" {
				content, _ = args["request"].(string)
			}
			if err := notes.Remember(ctx, inv.UserID, content); err != nil {
				return "", err
			}
			return "Remembered.", nil
		case "recall":
			text, err := notes.Recall(ctx, inv.UserID)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(text) == "" {
				return "Nothing remembered yet.", nil
			}
			return text, nil
		default:
			return "Memory: use action 'remember' with content, or 'recall'.", nil
		}
	}))
}

// SystemCapability reports information about the host running the endpoint.
func SystemCapability(version, home string) Descriptor {
	return Builtin(protocol.Capability{
		Name:        "System",
		Description: "Report information about the local computer running the Brain Stem.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"description": "Action: 'get_info' or 'help'.",
					"enum":        []any{"get_info", "help"},
				},
				"request": map[string]any{
					"type":        "string",
					"description": "Original user request.",
				},
			},
			"required": []any{"action"},
		},
	}, HandlerFunc(func(ctx context.Context, args map[string]any) (string, error) {
		if args["action"] != "get_info" {
			return "System: use action 'get_info' for platform, user, and time details.", nil
		}

		user := os.Getenv("USER")
		if user == "" {
			user = "unknown"
		}
		hostname, _ := os.Hostname()
		userHome, _ := os.UserHomeDir()

		info := map[string]any{
			"platform":  runtime.GOOS,
			"arch":      runtime.GOARCH,
			"go":        runtime.Version(),
			"version":   version,
			"hostname":  hostname,
			"user":      user,
			"home":      userHome,
			"rapp_home": home,
			"time":      time.Now().Format(time.RFC3339),
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode info: %w", err)
		}
		return string(data), nil
	}))
}
