// Package dispatch runs one conversational turn: it resolves the context,
// selects capabilities, invokes them concurrently, composes the response,
// and commits the turn to the session log.
//
//	d := dispatch.New(&cfg, registry, contextStore, sessions)
//	result, err := d.Handle(ctx, dispatch.Request{...})
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapp-os/brainstem/capability"
	"github.com/rapp-os/brainstem/contexts"
	"github.com/rapp-os/brainstem/core/protocol"
	"github.com/rapp-os/brainstem/observability"
	"github.com/rapp-os/brainstem/session"
)

// Capabilities is the registry view the dispatcher needs.
type Capabilities interface {
	Snapshot() *capability.Snapshot
	Invoke(ctx context.Context, d capability.Descriptor, args map[string]any) capability.Outcome
}

// Contexts resolves context ids.
type Contexts interface {
	Resolve(id string) (contexts.Context, error)
}

// Memory recalls per-user notes offered to the selector.
type Memory interface {
	Recall(ctx context.Context, userID string) (string, error)
}

// Option configures a Dispatcher after config-driven initialization.
type Option func(*Dispatcher)

// WithSelector overrides the config-chosen selector.
func WithSelector(s Selector) Option {
	return func(d *Dispatcher) { d.selector = s }
}

// WithComposer overrides the default TraceComposer.
func WithComposer(c Composer) Option {
	return func(d *Dispatcher) { d.composer = c }
}

// WithMemory supplies user notes to the selector.
func WithMemory(m Memory) Option {
	return func(d *Dispatcher) { d.memory = m }
}

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher executes turns. It holds no per-turn state and is safe for
// concurrent use.
type Dispatcher struct {
	caps     Capabilities
	contexts Contexts
	sessions session.Store
	memory   Memory
	selector Selector
	composer Composer
	observer observability.Observer

	maxParallel   int
	historyWindow int
}

// New creates a Dispatcher from configuration. A configured selector URL
// selects an HTTPSelector; otherwise the RuleSelector is used.
func New(cfg *Config, caps Capabilities, ctxs Contexts, sessions session.Store, opts ...Option) *Dispatcher {
	var selector Selector = RuleSelector{}
	if cfg.Selector.URL != "" {
		selector = NewHTTPSelector(cfg.Selector.URL, cfg.Selector.Timeout.Std(), nil)
	}

	d := &Dispatcher{
		caps:          caps,
		contexts:      ctxs,
		sessions:      sessions,
		selector:      selector,
		composer:      TraceComposer{Limit: cfg.TraceLimit},
		observer:      observability.NoOpObserver{},
		maxParallel:   cfg.MaxParallel,
		historyWindow: cfg.HistoryWindow,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// turn carries the state of one Handle call between phases.
type turn struct {
	req       Request
	phase     Phase
	started   time.Time
	sessionID string
	context   contexts.Context
	history   []protocol.Turn
	snapshot  *capability.Snapshot
	allowed   []capability.Descriptor
	selected  []capability.Descriptor
	args      []map[string]any
	trace     []string
	outcomes  []capability.Outcome
}

// Handle runs one turn to completion. Capability failures are reported in
// the Result; an *Error is returned only when no result can be produced, in
// which case the session is unchanged.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (result *Result, err error) {
	t := &turn{req: req, phase: PhaseReceived, started: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			err = fail(ErrInternal, t.phase, fmt.Errorf("panic: %v", r))
			result = nil
		}
		if err != nil {
			d.failed(ctx, t, err)
		}
	}()

	if err := d.validate(req); err != nil {
		return nil, err
	}

	release, err := d.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := d.selectCapabilities(ctx, t); err != nil {
		return nil, err
	}

	d.invoke(ctx, t)

	result = d.compose(ctx, t)

	if err := d.commit(ctx, t, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.Input) == "" {
		missing = append(missing, "user_input")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "user_guid")
	}
	if strings.TrimSpace(req.ContextID) == "" {
		missing = append(missing, "context_guid")
	}
	if len(missing) > 0 {
		return fail(ErrValidation, PhaseReceived, fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// resolve moves received → context_resolved. The returned release unpins
// the session and must be called once the turn is committed or abandoned.
func (d *Dispatcher) resolve(ctx context.Context, t *turn) (func(), error) {
	c, err := d.contexts.Resolve(t.req.ContextID)
	if err != nil {
		if errors.Is(err, contexts.ErrNotFound) {
			return nil, fail(ErrContextNotFound, t.phase, err)
		}
		return nil, fail(ErrInternal, t.phase, err)
	}
	t.context = c

	// A new conversation has no id until commit; the store mints it.
	t.sessionID = t.req.SessionID

	release, err := d.sessions.Pin(ctx, t.req.UserID, t.sessionID)
	if err != nil {
		return nil, d.sessionError(t, err)
	}

	history, err := d.sessions.History(ctx, t.req.UserID, t.sessionID)
	if err != nil {
		release()
		return nil, d.sessionError(t, err)
	}
	t.history = window(history, d.historyWindow)

	d.advance(ctx, t, PhaseContextResolved, map[string]any{
		"context_guid": c.ID,
		"session_guid": t.sessionID,
		"history":      len(t.history),
	})
	return release, nil
}

// selectCapabilities moves context_resolved → capabilities_selected.
func (d *Dispatcher) selectCapabilities(ctx context.Context, t *turn) error {
	t.snapshot = d.caps.Snapshot()
	for _, desc := range t.snapshot.List() {
		if t.context.Allows(desc.Name) {
			t.allowed = append(t.allowed, desc)
		}
	}

	var notes string
	if d.memory != nil {
		recalled, err := d.memory.Recall(ctx, t.req.UserID)
		if err != nil {
			d.observer.OnEvent(ctx, observability.Event{
				Type:      EventMemoryFailed,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "dispatch.Handle",
				Data:      map[string]any{"user_guid": t.req.UserID, "error": err.Error()},
			})
		}
		notes = recalled
	}

	offered := make([]protocol.Capability, len(t.allowed))
	for i, desc := range t.allowed {
		offered[i] = desc.Capability.Clone()
	}

	selections, err := d.selector.Select(ctx, SelectionRequest{
		Input:        t.req.Input,
		History:      protocol.Messages(t.history),
		Conversation: windowMessages(t.req.Conversation, d.historyWindow),
		ContextID:    t.context.ID,
		SystemPrompt: t.context.SystemPrompt,
		Parameters:   protocol.CloneMap(t.context.Parameters),
		Memory:       notes,
		Capabilities: offered,
	})
	if err != nil {
		return fail(ErrInternal, t.phase, fmt.Errorf("selection failed: %w", err))
	}

	for _, sel := range selections {
		desc, reason := d.admit(t, sel.Name)
		if reason != "" {
			t.trace = append(t.trace, fmt.Sprintf("%s skipped: %s", sel.Name, reason))
			d.observer.OnEvent(ctx, observability.Event{
				Type:      EventSelectionDropped,
				Level:     observability.LevelInfo,
				Timestamp: time.Now(),
				Source:    "dispatch.Handle",
				Data:      map[string]any{"name": sel.Name, "reason": reason},
			})
			continue
		}
		t.selected = append(t.selected, desc)
		t.args = append(t.args, sel.Arguments)
	}

	d.advance(ctx, t, PhaseCapabilitiesSelected, map[string]any{
		"offered":  len(offered),
		"selected": len(t.selected),
		"dropped":  len(selections) - len(t.selected),
	})
	return nil
}

// admit checks a selection against the context allow-list and the snapshot
// the turn started with. A non-empty reason means the selection is dropped.
func (d *Dispatcher) admit(t *turn, name string) (capability.Descriptor, string) {
	if !t.context.Allows(name) {
		return capability.Descriptor{}, fmt.Sprintf("not allowed in context %s", t.context.ID)
	}
	desc, err := t.snapshot.Resolve(name)
	if err != nil {
		return capability.Descriptor{}, "not loaded"
	}
	return desc, ""
}

// invoke moves capabilities_selected → capabilities_invoked. Outcomes are
// stored by selection index; a failure never stops the other invocations.
func (d *Dispatcher) invoke(ctx context.Context, t *turn) {
	t.outcomes = make([]capability.Outcome, len(t.selected))

	invCtx := capability.WithInvocation(ctx, capability.Invocation{
		UserID:    t.req.UserID,
		SessionID: t.sessionID,
		ContextID: t.context.ID,
	})

	var g errgroup.Group
	if d.maxParallel > 0 {
		g.SetLimit(d.maxParallel)
	}
	for i, desc := range t.selected {
		g.Go(func() error {
			if err := invCtx.Err(); err != nil {
				t.outcomes[i] = capability.Outcome{
					Name:   desc.Name,
					Status: capability.StatusCancelled,
					Error:  err.Error(),
				}
				return nil
			}
			t.outcomes[i] = d.caps.Invoke(invCtx, desc, t.args[i])
			return nil
		})
	}
	g.Wait()

	succeeded := 0
	for _, o := range t.outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	d.advance(ctx, t, PhaseCapabilitiesInvoked, map[string]any{
		"invoked":   len(t.outcomes),
		"succeeded": succeeded,
	})
}

// compose moves capabilities_invoked → response_composed.
func (d *Dispatcher) compose(ctx context.Context, t *turn) *Result {
	available := make([]string, len(t.allowed))
	for i, desc := range t.allowed {
		available[i] = desc.Name
	}

	text, trace := d.composer.Compose(Composition{
		Outcomes:  t.outcomes,
		Available: available,
	})
	display, voice := splitVoice(text)

	used := []string{}
	for _, o := range t.outcomes {
		if o.Succeeded() {
			used = append(used, o.Name)
		}
	}

	logs := make([]string, 0, len(t.trace)+len(trace))
	logs = append(logs, t.trace...)
	logs = append(logs, trace...)

	result := &Result{
		Response:      display,
		VoiceResponse: voice,
		AgentLogs:     logs,
		AgentsUsed:    used,
		SessionID:     t.sessionID,
		ContextID:     t.context.ID,
		Outcomes:      t.outcomes,
	}

	d.advance(ctx, t, PhaseResponseComposed, map[string]any{
		"response_length": len(display),
		"voice":           voice != "",
	})
	return result
}

// commit moves response_composed → done. The append ignores cancellation of
// ctx so a turn whose work completed is always recorded.
func (d *Dispatcher) commit(ctx context.Context, t *turn, result *Result) error {
	now := time.Now().UTC()
	userTurn := protocol.Turn{
		Role:      protocol.RoleUser,
		Content:   t.req.Input,
		Timestamp: t.started.UTC(),
	}
	assistantTurn := protocol.Turn{
		Role:         protocol.RoleAssistant,
		Content:      result.Response,
		Timestamp:    now,
		Capabilities: append([]string(nil), result.AgentsUsed...),
		Trace:        append([]string(nil), result.AgentLogs...),
	}

	id, err := d.sessions.Append(context.WithoutCancel(ctx), t.req.UserID, t.sessionID, userTurn, assistantTurn)
	if err != nil {
		return d.sessionError(t, err)
	}
	t.sessionID = id
	result.SessionID = id

	d.advance(ctx, t, PhaseDone, nil)
	d.observer.OnEvent(ctx, observability.Event{
		Type:      EventComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "dispatch.Handle",
		Data: map[string]any{
			"session_guid": t.sessionID,
			"context_guid": t.context.ID,
			"agents_used":  len(result.AgentsUsed),
			"duration_ms":  time.Since(t.started).Milliseconds(),
		},
	})
	return nil
}

func (d *Dispatcher) sessionError(t *turn, err error) error {
	switch {
	case errors.Is(err, session.ErrIdentityMismatch):
		return fail(ErrIdentityMismatch, t.phase, err)
	case errors.Is(err, session.ErrInvalidIdentity):
		return fail(ErrValidation, t.phase, err)
	default:
		return fail(ErrInternal, t.phase, err)
	}
}

func (d *Dispatcher) advance(ctx context.Context, t *turn, next Phase, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["from"] = string(t.phase)
	data["to"] = string(next)
	t.phase = next

	d.observer.OnEvent(ctx, observability.Event{
		Type:      EventPhase,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "dispatch.Handle",
		Data:      data,
	})
}

func (d *Dispatcher) failed(ctx context.Context, t *turn, err error) {
	data := map[string]any{
		"phase": string(t.phase),
		"error": err.Error(),
	}
	var de *Error
	if errors.As(err, &de) {
		data["kind"] = de.Kind.Error()
	}
	t.phase = PhaseFailed

	d.observer.OnEvent(ctx, observability.Event{
		Type:      EventFailed,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "dispatch.Handle",
		Data:      data,
	})
}

func window(turns []protocol.Turn, n int) []protocol.Turn {
	if n > 0 && len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func windowMessages(msgs []protocol.Message, n int) []protocol.Message {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]protocol.Message(nil), msgs...)
}
