package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rapp-os/brainstem/dispatch"
)

// Connect procedures. Messages are google.protobuf.Struct values carrying
// the same JSON shapes as the plain HTTP routes.
const (
	connectService      = "rapp.v1.BrainStemService"
	procedureChat       = "/" + connectService + "/Chat"
	procedureAgents     = "/" + connectService + "/ListAgents"
	procedureContexts   = "/" + connectService + "/ListContexts"
	procedureReload     = "/" + connectService + "/Reload"
	maxConnectReadBytes = 1 << 20
)

type unaryFunc func(ctx context.Context, in map[string]any) (any, error)

func (s *Server) connectHandlers() map[string]http.Handler {
	opts := []connect.HandlerOption{
		connect.WithReadMaxBytes(maxConnectReadBytes),
		connect.WithRecover(func(ctx context.Context, _ connect.Spec, _ http.Header, p any) error {
			s.internalError(ctx, fmt.Errorf("panic: %v", p))
			return connect.NewError(connect.CodeInternal, errors.New("internal error"))
		}),
	}

	return map[string]http.Handler{
		procedureChat:     s.unary(procedureChat, s.connectChat, opts...),
		procedureAgents:   s.unary(procedureAgents, s.connectAgents, opts...),
		procedureContexts: s.unary(procedureContexts, s.connectContexts, opts...),
		procedureReload:   s.unary(procedureReload, s.connectReload, opts...),
	}
}

func (s *Server) unary(procedure string, fn unaryFunc, opts ...connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			out, err := fn(ctx, req.Msg.AsMap())
			if err != nil {
				return nil, err
			}
			msg, err := toStruct(out)
			if err != nil {
				s.internalError(ctx, err)
				return nil, connect.NewError(connect.CodeInternal, errors.New("internal error"))
			}
			return connect.NewResponse(msg), nil
		},
		opts...,
	)
}

func (s *Server) connectChat(ctx context.Context, in map[string]any) (any, error) {
	var body chatRequest
	if err := fromMap(in, &body); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	req := body.toDispatch()
	if field := missing(req); field != "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New(field+" required"))
	}

	result, err := s.dispatcher.Handle(ctx, req)
	if err != nil {
		return nil, s.connectError(ctx, err)
	}
	return result, nil
}

func (s *Server) connectAgents(_ context.Context, _ map[string]any) (any, error) {
	list := s.registry.Snapshot().List()
	agents := make([]agentEntry, len(list))
	for i, d := range list {
		agents[i] = newAgentEntry(d)
	}
	return map[string]any{"agents": agents}, nil
}

func (s *Server) connectContexts(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{"contexts": s.contexts.Snapshot().List()}, nil
}

func (s *Server) connectReload(ctx context.Context, _ map[string]any) (any, error) {
	report, err := s.reload(ctx)
	if err != nil {
		s.internalError(ctx, err)
		return nil, connect.NewError(connect.CodeInternal, errors.New("reload failed"))
	}
	return report, nil
}

// connectError maps a dispatch failure to a Connect error code.
func (s *Server) connectError(ctx context.Context, err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		code = connect.CodeInvalidArgument
	case errors.Is(err, dispatch.ErrContextNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, dispatch.ErrIdentityMismatch):
		code = connect.CodePermissionDenied
	default:
		s.internalError(ctx, err)
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
	_, kind := statusFor(err)
	cerr := connect.NewError(code, err)
	cerr.Meta().Set("X-Rapp-Error-Kind", kind)
	return cerr
}

// toStruct converts v to a Struct through its JSON form; structpb only
// accepts the generic JSON value types.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromMap(m map[string]any, dst any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
