package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/session"
)

type unaryClient = connect.Client[structpb.Struct, structpb.Struct]

// Client is a remote Dispatcher. Errors carry the engine sentinels, so
// errors.Is works the same as against a local engine.
type Client struct {
	submit   *unaryClient
	resume   *unaryClient
	getState *unaryClient
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		submit:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SubmitProcedure, opts...),
		resume:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ResumeProcedure, opts...),
		getState: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+GetStateProcedure, opts...),
	}
}

func (c *Client) Submit(ctx context.Context, threadID, text string, metadata map[string]string) (*engine.Outcome, error) {
	var out engine.Outcome
	if err := call(ctx, c.submit, SubmitRequest{ThreadID: threadID, Text: text, Metadata: metadata}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resume(ctx context.Context, threadID string, d engine.Decision) (*engine.Outcome, error) {
	var out engine.Outcome
	if err := call(ctx, c.resume, ResumeRequest{ThreadID: threadID, Decision: d}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetState(ctx context.Context, threadID string) (*session.State, error) {
	var st session.State
	if err := call(ctx, c.getState, GetStateRequest{ThreadID: threadID}, &st); err != nil {
		return nil, err
	}
	st.Normalize()
	return &st, nil
}

func call(ctx context.Context, client *unaryClient, in, out any) error {
	msg, err := encode(in)
	if err != nil {
		return err
	}

	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return fromConnectError(err)
	}
	return decode(resp.Msg, out)
}
