// Package grpc offers the agent control plane (start, stop, send
// input, resize, decide) over gRPC, for operators embedding this
// engine in a larger system that would rather not speak the HTTP
// surface. Registered by hand against grpc.ServiceDesc rather than
// through protoc-generated bindings — see codec.go for why.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
)

// Server implements the agent control plane RPCs directly over an
// agentmgr.Manager, the same component internal/transport/http's
// agent endpoints call into.
type Server struct {
	Agents *agentmgr.Manager
}

// Register attaches Server to grpcServer under the "json" codec, so
// callers never need protoc-generated client stubs either — any gRPC
// client that marshals these request/response structs as JSON and
// sets the "json" content-subtype can call it.
func Register(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "fleetforge.orchestrator.v1.AgentControl",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartAgent", Handler: startAgentHandler},
		{MethodName: "StopAgent", Handler: stopAgentHandler},
		{MethodName: "SendInput", Handler: sendInputHandler},
		{MethodName: "Resize", Handler: resizeHandler},
		{MethodName: "DecideApproval", Handler: decideApprovalHandler},
	},
	Metadata: "fleetforge/orchestrator/v1/agent_control.proto",
}

func startAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	var req StartAgentRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.startAgent(ctx, req.(*StartAgentRequest))
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetforge.orchestrator.v1.AgentControl/StartAgent"}
	return interceptor(ctx, &req, info, handler)
}

func (s *Server) startAgent(ctx context.Context, req *StartAgentRequest) (*StartAgentResponse, error) {
	var repo *string
	if req.Repository != "" {
		repo = &req.Repository
	}
	agent, err := s.Agents.Start(ctx, req.ItemID, req.Role, repo, req.Workdir, req.Prompt)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &StartAgentResponse{AgentID: agent.ID}, nil
}

func stopAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	var req StopAgentRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.stopAgent(req.(*StopAgentRequest))
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetforge.orchestrator.v1.AgentControl/StopAgent"}
	return interceptor(ctx, &req, info, handler)
}

func (s *Server) stopAgent(req *StopAgentRequest) (*StopAgentResponse, error) {
	if err := s.Agents.Stop(req.ItemID, req.AgentID); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &StopAgentResponse{}, nil
}

func sendInputHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	var req SendInputRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.sendInput(req.(*SendInputRequest))
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetforge.orchestrator.v1.AgentControl/SendInput"}
	return interceptor(ctx, &req, info, handler)
}

func (s *Server) sendInput(req *SendInputRequest) (*SendInputResponse, error) {
	if err := s.Agents.SendInput(req.AgentID, req.Data); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &SendInputResponse{}, nil
}

func resizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	var req ResizeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.resize(req.(*ResizeRequest))
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetforge.orchestrator.v1.AgentControl/Resize"}
	return interceptor(ctx, &req, info, handler)
}

func (s *Server) resize(req *ResizeRequest) (*ResizeResponse, error) {
	if err := s.Agents.Resize(req.AgentID, req.Cols, req.Rows); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &ResizeResponse{}, nil
}

func decideApprovalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Server)
	var req DecideApprovalRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.decideApproval(req.(*DecideApprovalRequest))
	}
	if interceptor == nil {
		return handler(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetforge.orchestrator.v1.AgentControl/DecideApproval"}
	return interceptor(ctx, &req, info, handler)
}

func (s *Server) decideApproval(req *DecideApprovalRequest) (*DecideApprovalResponse, error) {
	if err := s.Agents.Decide(req.ItemID, req.AgentID, req.RequestID, req.Approved, req.Reason); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &DecideApprovalResponse{}, nil
}

// NewServer constructs a grpc.Server with the json codec forced (see
// codec.go) and this package's agent control service registered.
func NewServer(agents *agentmgr.Manager) *grpc.Server {
	gs := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	Register(gs, &Server{Agents: agents})
	return gs
}
