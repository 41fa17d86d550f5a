package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/contexts"
	"github.com/rapp-os/brainstem/core/protocol"
	"github.com/rapp-os/brainstem/dispatch"
	"github.com/rapp-os/brainstem/observability"
)

const (
	serviceName = "rapp-brain-stem"

	// Error kind labels returned alongside the error message.
	kindValidation         = "ValidationError"
	kindContextNotFound    = "ContextNotFound"
	kindCapabilityNotFound = "CapabilityNotFound"
	kindIdentityMismatch   = "SessionIdentityMismatch"
	kindInternal           = "InternalDispatchError"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// decodeBody reads a JSON object. An empty body decodes as {}.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}
	return json.Unmarshal(data, v)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

type agentMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type agentEntry struct {
	ID       string          `json:"id"`
	Metadata agentMetadata   `json:"metadata"`
	Version  string          `json:"version,omitempty"`
	Kind     capability.Kind `json:"kind"`
	Source   string          `json:"source"`
}

func newAgentEntry(d capability.Descriptor) agentEntry {
	return agentEntry{
		ID: d.Name,
		Metadata: agentMetadata{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
		Version: d.Version,
		Kind:    d.Kind,
		Source:  d.Source,
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list := s.registry.Snapshot().List()
	agents := make([]agentEntry, len(list))
	for i, d := range list {
		agents[i] = newAgentEntry(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Snapshot().Resolve(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, kindCapabilityNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newAgentEntry(d))
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"contexts": s.contexts.Snapshot().List()})
}

type loadSummary struct {
	Loaded []string      `json:"loaded"`
	Failed []failureInfo `json:"failed"`
}

type failureInfo struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type reloadReport struct {
	Status   string      `json:"status"`
	Agents   loadSummary `json:"agents"`
	Contexts loadSummary `json:"contexts"`
}

// reload refreshes the registry and the context store. Both are attempted
// even when the first fails.
func (s *Server) reload(ctx context.Context) (reloadReport, error) {
	report := reloadReport{
		Status:   "reloaded",
		Agents:   loadSummary{Loaded: []string{}, Failed: []failureInfo{}},
		Contexts: loadSummary{Loaded: []string{}, Failed: []failureInfo{}},
	}

	capSnap, capErr := s.registry.Reload(ctx)
	if capErr == nil {
		report.Agents.Loaded = append(report.Agents.Loaded, capSnap.Names()...)
		for _, f := range capSnap.Failures() {
			report.Agents.Failed = append(report.Agents.Failed, failureInfo(f))
		}
	}

	ctxSnap, ctxErr := s.contexts.Reload(ctx)
	if ctxErr == nil {
		for _, c := range ctxSnap.List() {
			report.Contexts.Loaded = append(report.Contexts.Loaded, c.ID)
		}
		for _, f := range ctxSnap.Failures() {
			report.Contexts.Failed = append(report.Contexts.Failed, failureInfo(f))
		}
	}

	err := errors.Join(capErr, ctxErr)
	if err != nil {
		report.Status = "failed"
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventReload,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "server.reload",
		Data: map[string]any{
			"status":          report.Status,
			"agents_loaded":   len(report.Agents.Loaded),
			"agents_failed":   len(report.Agents.Failed),
			"contexts_loaded": len(report.Contexts.Loaded),
			"contexts_failed": len(report.Contexts.Failed),
		},
	})
	return report, err
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	report, err := s.reload(r.Context())
	if err != nil {
		s.internalError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// chatRequest accepts "message" as an alias for "user_input".
type chatRequest struct {
	UserInput           string             `json:"user_input"`
	Message             string             `json:"message"`
	UserGUID            string             `json:"user_guid"`
	SessionGUID         string             `json:"session_guid"`
	ContextGUID         string             `json:"context_guid"`
	ConversationHistory []protocol.Message `json:"conversation_history"`
}

func (c chatRequest) toDispatch() dispatch.Request {
	input := c.UserInput
	if input == "" {
		input = c.Message
	}
	return dispatch.Request{
		Input:        input,
		UserID:       c.UserGUID,
		SessionID:    c.SessionGUID,
		ContextID:    c.ContextGUID,
		Conversation: c.ConversationHistory,
	}
}

// missing reports the first required field absent from r.
func missing(r dispatch.Request) string {
	switch {
	case strings.TrimSpace(r.Input) == "":
		return "user_input"
	case strings.TrimSpace(r.UserID) == "":
		return "user_guid"
	case strings.TrimSpace(r.ContextID) == "":
		return "context_guid"
	}
	return ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	req := body.toDispatch()
	if field := missing(req); field != "" {
		writeError(w, http.StatusBadRequest, kindValidation, field+" required")
		return
	}

	result, err := s.dispatcher.Handle(r.Context(), req)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createContextRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Agents       []string       `json:"agents"`
	Skills       []string       `json:"skills"`
	SystemPrompt string         `json:"system_prompt"`
	Config       map[string]any `json:"config"`
}

func (c createContextRequest) toDraft() contexts.Draft {
	d := contexts.Draft{
		Name:         strings.TrimSpace(c.Name),
		Description:  c.Description,
		Capabilities: c.Agents,
		Skills:       c.Skills,
		SystemPrompt: c.SystemPrompt,
		Parameters:   c.Config,
	}
	if d.Name == "" {
		d.Name = "New Context"
	}
	if d.Capabilities == nil {
		d.Capabilities = []string{contexts.Wildcard}
	}
	if d.Skills == nil {
		d.Skills = []string{contexts.Wildcard}
	}
	return d
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var body createContextRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeDecodeError(w, err)
		return
	}

	c, err := s.contexts.Create(r.Context(), body.toDraft())
	if err != nil {
		if errors.Is(err, contexts.ErrInvalid) {
			writeError(w, http.StatusBadRequest, kindValidation, err.Error())
			return
		}
		s.internalError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, kindInternal, "failed to create context")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"guid": c.ID, "name": c.Name})
}

func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, kindValidation, "Request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, kindValidation, "Invalid JSON")
}

// statusFor maps a dispatch failure to an HTTP status and kind label.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		return http.StatusBadRequest, kindValidation
	case errors.Is(err, dispatch.ErrContextNotFound):
		return http.StatusNotFound, kindContextNotFound
	case errors.Is(err, dispatch.ErrIdentityMismatch):
		return http.StatusForbidden, kindIdentityMismatch
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func (s *Server) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status == http.StatusInternalServerError {
		s.internalError(r.Context(), err)
		writeError(w, status, kind, "internal error")
		return
	}
	writeError(w, status, kind, err.Error())
}

// internalError records a failure whose detail is withheld from the client.
func (s *Server) internalError(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, "request failed", "error", err)
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventInternal,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "server",
		Data:      map[string]any{"error": err.Error()},
	})
}
