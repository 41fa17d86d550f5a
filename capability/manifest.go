package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rapp-os/brainstem/core/config"
	"github.com/rapp-os/brainstem/core/protocol"
)

const maxResponseBytes = 1 << 20

// manifest is the on-disk form of a declarative capability. JSON and YAML
// manifests share the same fields.
type manifest struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Parameters  map[string]any    `json:"parameters" yaml:"parameters"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Timeout     config.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Kind        Kind              `json:"kind" yaml:"kind"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Template    string            `json:"template,omitempty" yaml:"template,omitempty"`
}

func decodeManifest(path string, data []byte) (manifest, error) {
	var m manifest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return m, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		return m, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return m, nil
}

func (l *loader) loadManifest(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}

	m, err := decodeManifest(path, data)
	if err != nil {
		return Descriptor{}, err
	}

	handler, err := l.manifestHandler(m, filepath.Dir(path))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, m.Name, err)
	}

	return Descriptor{
		Capability: protocol.Capability{
			Name:        m.Name,
			Description: m.Description,
			Parameters:  m.Parameters,
		},
		Version: m.Version,
		Timeout: m.Timeout,
		Kind:    m.Kind,
		Source:  path,
		handler: handler,
	}, nil
}

func (l *loader) manifestHandler(m manifest, dir string) (Handler, error) {
	switch m.Kind {
	case KindExec:
		if m.Command == "" {
			return nil, fmt.Errorf("exec manifest requires command")
		}
		command := m.Command
		if strings.ContainsRune(command, '/') && !filepath.IsAbs(command) {
			command = filepath.Join(dir, command)
		}
		return &execHandler{command: command, args: m.Args, env: m.Env, dir: dir}, nil

	case KindHTTP:
		if m.URL == "" {
			return nil, fmt.Errorf("http manifest requires url")
		}
		if !strings.HasPrefix(m.URL, "http://") && !strings.HasPrefix(m.URL, "https://") {
			return nil, fmt.Errorf("http manifest url must be http or https: %q", m.URL)
		}
		return &httpHandler{url: m.URL, headers: m.Headers, client: l.client}, nil

	case KindTemplate:
		if m.Template == "" {
			return nil, fmt.Errorf("template manifest requires template")
		}
		tmpl, err := template.New(m.Name).Option("missingkey=zero").Parse(m.Template)
		if err != nil {
			return nil, fmt.Errorf("parse template: %v", err)
		}
		return &templateHandler{tmpl: tmpl}, nil

	case "":
		return nil, fmt.Errorf("kind is required (exec, http, template)")
	default:
		return nil, fmt.Errorf("unknown kind %q", m.Kind)
	}
}

// execHandler runs a local program. Arguments are written to stdin as JSON
// and stdout becomes the result.
type execHandler struct {
	command string
	args    []string
	env     map[string]string
	dir     string
}

func (h *execHandler) Invoke(ctx context.Context, args map[string]any) (string, error) {
	input, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.command, h.args...)
	cmd.Dir = h.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(), h.environ(ctx)...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}

	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

func (h *execHandler) environ(ctx context.Context) []string {
	keys := make([]string, 0, len(h.env))
	for k := range h.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		env = append(env, k+"="+h.env[k])
	}
	if inv, ok := InvocationFrom(ctx); ok {
		env = append(env,
			"RAPP_USER_GUID="+inv.UserID,
			"RAPP_SESSION_GUID="+inv.SessionID,
			"RAPP_CONTEXT_GUID="+inv.ContextID,
		)
	}
	return env
}

// httpHandler posts arguments as JSON to a remote endpoint and returns the
// response body.
type httpHandler struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func (h *httpHandler) Invoke(ctx context.Context, args map[string]any) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	if inv, ok := InvocationFrom(ctx); ok {
		req.Header.Set("X-Rapp-User-Guid", inv.UserID)
		req.Header.Set("X-Rapp-Session-Guid", inv.SessionID)
		req.Header.Set("X-Rapp-Context-Guid", inv.ContextID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// templateHandler renders a text/template with the arguments as data.
type templateHandler struct {
	tmpl *template.Template
}

func (h *templateHandler) Invoke(_ context.Context, args map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, args); err != nil {
		return "", err
	}
	return buf.String(), nil
}
