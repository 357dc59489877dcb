// Package server exposes the expense workflow over gRPC.
//
// The gRPC surface is a trusted local transport: actor ids in requests
// (submitter, approver, admin) are taken as given. Bind it to loopback or
// a private network; the HTTP API is the authenticated surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/store"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr string
}

// Server implements ApprovalService on top of a workflow.Service.
type Server struct {
	svc        *workflow.Service
	log        *zap.Logger
	cfg        Config
	grpcServer *grpc.Server
}

// New creates a gRPC server bound to svc.
func New(svc *workflow.Service, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		svc: svc,
		log: logging.OrNop(logger),
		cfg: cfg,
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterApprovalServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Submit implements the Submit RPC.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	sub, err := req.Parse()
	if err != nil {
		return nil, toStatus(err)
	}
	e, err := s.svc.Submit(ctx, sub)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(e)
}

// Decide implements the Decide RPC. ApproverID is trusted as sent.
func (s *Server) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DecideRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	d, ok := model.ParseDecision(req.Decision)
	if !ok {
		return nil, toStatus(model.Errorf(model.KindValidation, "decision %q is not approve or reject", req.Decision))
	}
	e, err := s.svc.Decide(ctx, req.ExpenseID, req.ApproverID, d, req.Comments)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(e)
}

// Get implements the Get RPC.
func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	e, err := s.svc.Get(ctx, req.ExpenseID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(e)
}

// List implements the List RPC.
func (s *Server) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	f, err := ListFilter(req)
	if err != nil {
		return nil, toStatus(err)
	}
	list, err := s.svc.List(ctx, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(ExpenseList{Expenses: nonNil(list)})
}

// Pending implements the Pending RPC.
func (s *Server) Pending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PendingRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if req.ApproverID == "" {
		return nil, toStatus(model.Errorf(model.KindValidation, "approver_id is required"))
	}
	list, err := s.svc.PendingFor(ctx, req.ApproverID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(ExpenseList{Expenses: nonNil(list)})
}

// Stats implements the Stats RPC.
func (s *Server) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StatsRequest
	if err := Decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	st, err := s.svc.Stats(ctx, store.Filter{SubmitterID: req.SubmitterID})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(st)
}

// ListFilter converts a ListRequest into a store filter.
func ListFilter(req ListRequest) (store.Filter, error) {
	return workflow.ParseFilter(workflow.FilterParams{
		Status:      req.Status,
		SubmitterID: req.SubmitterID,
		Category:    req.Category,
		From:        req.From,
		To:          req.To,
		Limit:       req.Limit,
	})
}

func reply(v any) (*structpb.Struct, error) {
	st, err := Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func nonNil(list []*model.Expense) []*model.Expense {
	if list == nil {
		return []*model.Expense{}
	}
	return list
}

// toStatus maps workflow errors onto gRPC status codes. The message keeps
// the "kind: reason" form so clients can rebuild the typed error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(CodeOf(model.KindOf(err)), err.Error())
}

// CodeOf returns the gRPC code for an error kind.
func CodeOf(kind model.Kind) codes.Code {
	switch kind {
	case model.KindValidation, model.KindInvalidRule:
		return codes.InvalidArgument
	case model.KindNotFound:
		return codes.NotFound
	case model.KindNotAuthorizedApprover:
		return codes.PermissionDenied
	case model.KindNotPending, model.KindNoRuleMatched:
		return codes.FailedPrecondition
	case model.KindConcurrentModification:
		return codes.Aborted
	case model.KindRateUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if code == codes.Internal || code == codes.Unknown {
		s.log.Error("grpc call failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("grpc call", fields...)
	}
	return resp, err
}
