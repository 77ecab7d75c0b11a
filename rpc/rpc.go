// Package rpc exposes a Dispatcher over Connect. Payloads travel as
// google.protobuf.Struct documents whose fields mirror the JSON form of the
// engine types, so the service needs no generated code.
package rpc

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/session"
)

// ServiceName is the fully-qualified Connect service name.
const ServiceName = "dispatch.v1.DispatchService"

// Procedure paths, relative to the server root.
const (
	ServicePath       = "/" + ServiceName + "/"
	SubmitProcedure   = ServicePath + "Submit"
	ResumeProcedure   = ServicePath + "Resume"
	GetStateProcedure = ServicePath + "GetState"
)

const (
	EventRequest observability.EventType = "rpc.request"
	EventError   observability.EventType = "rpc.error"
)

// Dispatcher is the driver API served over the wire. *engine.Engine and
// *Client both satisfy it.
type Dispatcher interface {
	Submit(ctx context.Context, threadID, text string, metadata map[string]string) (*engine.Outcome, error)
	Resume(ctx context.Context, threadID string, d engine.Decision) (*engine.Outcome, error)
	GetState(ctx context.Context, threadID string) (*session.State, error)
}

// SubmitRequest is the Submit payload. An empty ThreadID starts a new
// thread with a generated ID.
type SubmitRequest struct {
	ThreadID string            `json:"thread_id,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResumeRequest is the Resume payload.
type ResumeRequest struct {
	ThreadID string `json:"thread_id"`
	engine.Decision
}

// GetStateRequest is the GetState payload.
type GetStateRequest struct {
	ThreadID string `json:"thread_id"`
}

type handler struct {
	d        Dispatcher
	observer observability.Observer
}

// NewHandler returns the mount path and HTTP handler serving d.
//
//	path, h := rpc.NewHandler(e, observer)
//	mux.Handle(path, h)
func NewHandler(d Dispatcher, observer observability.Observer, opts ...connect.HandlerOption) (string, http.Handler) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	h := &handler{d: d, observer: observer}

	submit := connect.NewUnaryHandler(SubmitProcedure, h.submit, opts...)
	resume := connect.NewUnaryHandler(ResumeProcedure, h.resume, opts...)
	getState := connect.NewUnaryHandler(GetStateProcedure, h.getState, opts...)

	return ServicePath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SubmitProcedure:
			submit.ServeHTTP(w, r)
		case ResumeProcedure:
			resume.ServeHTTP(w, r)
		case GetStateProcedure:
			getState.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (h *handler) submit(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in SubmitRequest
	if err := decodeRequest(req.Msg, &in); err != nil {
		return nil, h.fail(ctx, SubmitProcedure, "", err)
	}
	if in.ThreadID == "" {
		in.ThreadID = session.NewThreadID()
	}
	h.request(ctx, SubmitProcedure, in.ThreadID)

	out, err := h.d.Submit(ctx, in.ThreadID, in.Text, in.Metadata)
	if err != nil {
		return nil, h.fail(ctx, SubmitProcedure, in.ThreadID, err)
	}
	return respond(out)
}

func (h *handler) resume(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in ResumeRequest
	if err := decodeRequest(req.Msg, &in); err != nil {
		return nil, h.fail(ctx, ResumeProcedure, "", err)
	}
	h.request(ctx, ResumeProcedure, in.ThreadID)

	out, err := h.d.Resume(ctx, in.ThreadID, in.Decision)
	if err != nil {
		return nil, h.fail(ctx, ResumeProcedure, in.ThreadID, err)
	}
	return respond(out)
}

func (h *handler) getState(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in GetStateRequest
	if err := decodeRequest(req.Msg, &in); err != nil {
		return nil, h.fail(ctx, GetStateProcedure, "", err)
	}
	h.request(ctx, GetStateProcedure, in.ThreadID)

	st, err := h.d.GetState(ctx, in.ThreadID)
	if err != nil {
		return nil, h.fail(ctx, GetStateProcedure, in.ThreadID, err)
	}
	return respond(st)
}

func (h *handler) request(ctx context.Context, procedure, threadID string) {
	h.observer.OnEvent(ctx, observability.Event{
		Type:      EventRequest,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "rpc.handler",
		Data: map[string]any{
			"procedure": procedure,
			"thread_id": threadID,
		},
	})
}

func (h *handler) fail(ctx context.Context, procedure, threadID string, err error) error {
	cerr := toConnectError(err)
	h.observer.OnEvent(ctx, observability.Event{
		Type:      EventError,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "rpc.handler",
		Data: map[string]any{
			"procedure": procedure,
			"thread_id": threadID,
			"code":      cerr.Code().String(),
			"error":     err.Error(),
		},
	})
	return cerr
}

func respond(v any) (*connect.Response[structpb.Struct], error) {
	msg, err := encode(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
