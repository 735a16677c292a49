package grpc

import (
	"context"

	"genledger/internal/model"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

const (
	ledgerServiceName = "genledger.v1.Ledger"
	eventsServiceName = "genledger.v1.Events"
)

// JobRequest addresses a single job. MediaID, ErrorMessage and Reason are read
// by the call that needs them.
type JobRequest struct {
	JobID        uuid.UUID `json:"job_id"`
	MediaID      string    `json:"media_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

type BalanceRequest struct {
	UserID string `json:"user_id"`
}

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// LedgerServer is the server API for the genledger.v1.Ledger service.
type LedgerServer interface {
	Submit(context.Context, *model.SubmitRequest) (*model.SubmitResult, error)
	MarkStarted(context.Context, *JobRequest) (*model.GenerationJob, error)
	MarkCompleted(context.Context, *JobRequest) (*model.GenerationJob, error)
	MarkFailed(context.Context, *JobRequest) (*model.GenerationJob, error)
	Cancel(context.Context, *JobRequest) (*model.GenerationJob, error)
	GetBalance(context.Context, *BalanceRequest) (*model.CreditBalance, error)
}

// EventsServer is the server API for the genledger.v1.Events service.
type EventsServer interface {
	Publish(context.Context, *EventRequest) (*EventResponse, error)
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(ledgerServiceName, "Submit", LedgerServer.Submit)},
		{MethodName: "MarkStarted", Handler: unaryHandler(ledgerServiceName, "MarkStarted", LedgerServer.MarkStarted)},
		{MethodName: "MarkCompleted", Handler: unaryHandler(ledgerServiceName, "MarkCompleted", LedgerServer.MarkCompleted)},
		{MethodName: "MarkFailed", Handler: unaryHandler(ledgerServiceName, "MarkFailed", LedgerServer.MarkFailed)},
		{MethodName: "Cancel", Handler: unaryHandler(ledgerServiceName, "Cancel", LedgerServer.Cancel)},
		{MethodName: "GetBalance", Handler: unaryHandler(ledgerServiceName, "GetBalance", LedgerServer.GetBalance)},
	},
	Streams: []grpc.StreamDesc{},
}

var EventsServiceDesc = grpc.ServiceDesc{
	ServiceName: eventsServiceName,
	HandlerType: (*EventsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: unaryHandler(eventsServiceName, "Publish", EventsServer.Publish)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func RegisterEventsServer(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&EventsServiceDesc, srv)
}

func unaryHandler[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + service + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerClient calls genledger.v1.Ledger using the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) Submit(ctx context.Context, in *model.SubmitRequest, opts ...grpc.CallOption) (*model.SubmitResult, error) {
	out := new(model.SubmitResult)
	if err := invoke(ctx, c.cc, ledgerServiceName, "Submit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) MarkStarted(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*model.GenerationJob, error) {
	out := new(model.GenerationJob)
	if err := invoke(ctx, c.cc, ledgerServiceName, "MarkStarted", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) MarkCompleted(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*model.GenerationJob, error) {
	out := new(model.GenerationJob)
	if err := invoke(ctx, c.cc, ledgerServiceName, "MarkCompleted", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) MarkFailed(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*model.GenerationJob, error) {
	out := new(model.GenerationJob)
	if err := invoke(ctx, c.cc, ledgerServiceName, "MarkFailed", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Cancel(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*model.GenerationJob, error) {
	out := new(model.GenerationJob)
	if err := invoke(ctx, c.cc, ledgerServiceName, "Cancel", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*model.CreditBalance, error) {
	out := new(model.CreditBalance)
	if err := invoke(ctx, c.cc, ledgerServiceName, "GetBalance", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// EventsClient calls genledger.v1.Events using the JSON codec.
type EventsClient struct {
	cc grpc.ClientConnInterface
}

func NewEventsClient(cc grpc.ClientConnInterface) *EventsClient {
	return &EventsClient{cc: cc}
}

func (c *EventsClient) Publish(ctx context.Context, in *EventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)
	if err := invoke(ctx, c.cc, eventsServiceName, "Publish", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, service, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...)
}
