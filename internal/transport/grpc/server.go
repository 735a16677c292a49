package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"genledger/internal/credit"
	"genledger/internal/model"
	"genledger/internal/pricing"
	"genledger/internal/repository"
	"genledger/internal/service"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server exposes the ledger over gRPC and accepts executor reports on the Events service.
type Server struct {
	svc    service.LedgerService
	srv    *grpc.Server
	addr   string
	logger *zap.Logger
}

var (
	_ LedgerServer = (*Server)(nil)
	_ EventsServer = (*Server)(nil)
)

func NewServer(addr string, svc service.LedgerService, logger *zap.Logger) *Server {
	s := &Server{svc: svc, addr: addr, srv: grpc.NewServer(), logger: logger}
	RegisterLedgerServer(s.srv, s)
	RegisterEventsServer(s.srv, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResult, error) {
	res, err := s.svc.Submit(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *Server) MarkStarted(ctx context.Context, req *JobRequest) (*model.GenerationJob, error) {
	job, err := s.svc.MarkStarted(ctx, req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return job, nil
}

func (s *Server) MarkCompleted(ctx context.Context, req *JobRequest) (*model.GenerationJob, error) {
	job, err := s.svc.MarkCompleted(ctx, req.JobID, req.MediaID)
	if err != nil {
		return nil, toStatus(err)
	}
	return job, nil
}

func (s *Server) MarkFailed(ctx context.Context, req *JobRequest) (*model.GenerationJob, error) {
	job, err := s.svc.MarkFailed(ctx, req.JobID, req.ErrorMessage)
	if err != nil {
		return nil, toStatus(err)
	}
	return job, nil
}

func (s *Server) Cancel(ctx context.Context, req *JobRequest) (*model.GenerationJob, error) {
	job, err := s.svc.Cancel(ctx, req.JobID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return job, nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*model.CreditBalance, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	b, err := s.svc.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return b, nil
}

// Publish accepts executor reports on generation.reports.<outcome>. The outcome in
// the topic wins over an empty outcome in the payload. Lifecycle events from a peer
// instance whose bus points here are acknowledged and logged, never applied.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	switch req.Topic {
	case repository.TopicJobSubmitted, repository.TopicJobCompleted, repository.TopicJobRefunded:
		s.logger.Debug("lifecycle event received", zap.String("topic", req.Topic), zap.Int("bytes", len(req.Payload)))
		return &EventResponse{Success: true}, nil
	}

	prefix := repository.ReportTopicPrefix + "."
	if !strings.HasPrefix(req.Topic, prefix) {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported topic %q", req.Topic)
	}

	var report model.JobReport
	if err := json.Unmarshal(req.Payload, &report); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid report payload: %v", err)
	}
	if report.Outcome == "" {
		report.Outcome = model.ReportOutcome(strings.TrimPrefix(req.Topic, prefix))
	}

	if err := s.svc.ApplyReport(ctx, report); err != nil {
		s.logger.Warn("executor report rejected",
			zap.String("job_id", report.JobID.String()),
			zap.String("outcome", string(report.Outcome)),
			zap.Error(err),
		)
		if model.IsRetryable(err) {
			return nil, toStatus(err)
		}
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}

func toStatus(err error) error {
	var te *model.TransitionError
	switch {
	case errors.As(err, &te):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, model.ErrInsufficientCredit):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrAccountExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, pricing.ErrUnsupportedProvider),
		errors.Is(err, pricing.ErrUnsupportedModel):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, pricing.ErrNoPricingConfigured), errors.Is(err, credit.ErrInvalidPrice):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case model.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
