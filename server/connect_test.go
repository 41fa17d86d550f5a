package server_test

import (
	"context"
	"net/http"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func (f *fixture) connectClient(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
	return connect.NewClient[structpb.Struct, structpb.Struct](f.ts.Client(), f.ts.URL+"/rapp.v1.BrainStemService/"+procedure)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestConnect_Chat(t *testing.T) {
	f := newFixture(t)
	client := f.connectClient("Chat")

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(mustStruct(t, map[string]any{
		"user_input":   "Echo over connect",
		"user_guid":    "alice",
		"context_guid": "default",
	})))
	require.NoError(t, err)

	out := resp.Msg.AsMap()
	assert.Equal(t, "Echo: Echo over connect", out["response"])
	assert.NotEmpty(t, out["session_guid"])
	assert.Equal(t, []string{"Echo"}, stringList(out["agents_used"]))
}

func TestConnect_ChatErrors(t *testing.T) {
	f := newFixture(t)
	client := f.connectClient("Chat")

	tests := []struct {
		name string
		in   map[string]any
		code connect.Code
	}{
		{
			name: "missing input",
			in:   map[string]any{"user_guid": "alice", "context_guid": "default"},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "unknown context",
			in:   map[string]any{"user_input": "hi", "user_guid": "alice", "context_guid": "nope"},
			code: connect.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CallUnary(context.Background(), connect.NewRequest(mustStruct(t, tt.in)))
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}
}

func TestConnect_Listings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.connectClient("ListAgents").CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	require.NoError(t, err)

	var names []string
	for _, a := range resp.Msg.AsMap()["agents"].([]any) {
		names = append(names, a.(map[string]any)["id"].(string))
	}
	assert.ElementsMatch(t, []string{"Echo", "Slow", "Broken"}, names)

	resp, err = f.connectClient("ListContexts").CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	require.NoError(t, err)
	assert.Len(t, resp.Msg.AsMap()["contexts"], 2)
}

func TestConnect_UnknownProcedure(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, http.MethodGet, "/rapp.v1.BrainStemService/Nope", "")
	assert.Equal(t, http.StatusNotFound, status)
}
