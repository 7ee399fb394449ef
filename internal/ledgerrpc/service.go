package ledgerrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/tala-robotics/sentinel/internal/registry"
)

const serviceName = "github.com/tala-robotics/sentinel.v1.LedgerService"

// LedgerServiceServer is the server-side interface for the ledger's gRPC
// surface: one method per registry.Registry operation.
type LedgerServiceServer interface {
	RegisterModel(context.Context, *RegisterModelRequest) (*Empty, error)
	RevokeModel(context.Context, *RevokeModelRequest) (*Empty, error)
	ReinstateModel(context.Context, *RevokeModelRequest) (*Empty, error)
	AnchorCheckpoint(context.Context, *AnchorCheckpointRequest) (*AnchorCheckpointResponse, error)
	VerifyCheckpoint(context.Context, *VerifyCheckpointRequest) (*VerifyCheckpointResponse, error)
	EmergencyRevokeEnclave(context.Context, *RevokeEnclaveRequest) (*Empty, error)
	ReinstateEnclave(context.Context, *RevokeEnclaveRequest) (*Empty, error)
	AddGateway(context.Context, *GatewayRequest) (*Empty, error)
	RemoveGateway(context.Context, *GatewayRequest) (*Empty, error)
}

// RegisterLedgerServiceServer registers srv on a gRPC server.
func RegisterLedgerServiceServer(s *grpc.Server, srv LedgerServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func handlerRegisterModel(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RegisterModelRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).RegisterModel(ctx, req)
}

func handlerRevokeModel(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RevokeModelRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).RevokeModel(ctx, req)
}

func handlerReinstateModel(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RevokeModelRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).ReinstateModel(ctx, req)
}

func handlerAnchorCheckpoint(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(AnchorCheckpointRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).AnchorCheckpoint(ctx, req)
}

func handlerVerifyCheckpoint(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(VerifyCheckpointRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).VerifyCheckpoint(ctx, req)
}

func handlerEmergencyRevokeEnclave(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RevokeEnclaveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).EmergencyRevokeEnclave(ctx, req)
}

func handlerReinstateEnclave(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RevokeEnclaveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).ReinstateEnclave(ctx, req)
}

func handlerAddGateway(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(GatewayRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).AddGateway(ctx, req)
}

func handlerRemoveGateway(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(GatewayRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(LedgerServiceServer).RemoveGateway(ctx, req)
}

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterModel", Handler: handlerRegisterModel},
		{MethodName: "RevokeModel", Handler: handlerRevokeModel},
		{MethodName: "ReinstateModel", Handler: handlerReinstateModel},
		{MethodName: "AnchorCheckpoint", Handler: handlerAnchorCheckpoint},
		{MethodName: "VerifyCheckpoint", Handler: handlerVerifyCheckpoint},
		{MethodName: "EmergencyRevokeEnclave", Handler: handlerEmergencyRevokeEnclave},
		{MethodName: "ReinstateEnclave", Handler: handlerReinstateEnclave},
		{MethodName: "AddGateway", Handler: handlerAddGateway},
		{MethodName: "RemoveGateway", Handler: handlerRemoveGateway},
	},
	Metadata: "github.com/tala-robotics/sentinel/v1/ledger.sentinel",
}

// Server wraps a registry.Registry as a LedgerServiceServer.
type Server struct {
	reg *registry.Registry
}

// NewServer wraps reg for gRPC exposure.
func NewServer(reg *registry.Registry) *Server {
	return &Server{reg: reg}
}

// Register adds the ledger service to a gRPC server. It sets no codec on
// the server: the server picks the canonical codec per call by content
// subtype, which works because this package's init registers it.
func (s *Server) Register(gs *grpc.Server) {
	RegisterLedgerServiceServer(gs, s)
}

func (s *Server) RegisterModel(ctx context.Context, req *RegisterModelRequest) (*Empty, error) {
	err := s.reg.RegisterModel(req.Caller.subject(), registry.RegisterModelInput{
		ModelHash:       req.ModelHash,
		Name:            req.Name,
		DatasetHash:     req.DatasetHash,
		ContainerDigest: req.ContainerDigest,
		HasSignature:    req.HasSignature,
	})
	return &Empty{}, err
}

func (s *Server) RevokeModel(ctx context.Context, req *RevokeModelRequest) (*Empty, error) {
	return &Empty{}, s.reg.RevokeModel(req.Caller.subject(), req.ModelHash)
}

func (s *Server) ReinstateModel(ctx context.Context, req *RevokeModelRequest) (*Empty, error) {
	return &Empty{}, s.reg.ReinstateModel(req.Caller.subject(), req.ModelHash)
}

func (s *Server) AnchorCheckpoint(ctx context.Context, req *AnchorCheckpointRequest) (*AnchorCheckpointResponse, error) {
	id, err := s.reg.AnchorCheckpoint(req.Caller.subject(), registry.AnchorCheckpointInput{
		MerkleRoot:         req.MerkleRoot,
		EnclaveMeasurement: req.EnclaveMeasurement,
		VendorTag:          req.VendorTag,
		Gateway:            req.Gateway,
		GatewaySignature:   req.GatewaySignature,
		BlockTime:          req.BlockTime,
	})
	if err != nil {
		return nil, err
	}
	return &AnchorCheckpointResponse{CheckpointID: id}, nil
}

func (s *Server) VerifyCheckpoint(ctx context.Context, req *VerifyCheckpointRequest) (*VerifyCheckpointResponse, error) {
	verified, err := s.reg.VerifyCheckpoint(req.Caller.subject(), req.CheckpointID)
	if err != nil {
		return nil, err
	}
	return &VerifyCheckpointResponse{Verified: verified}, nil
}

func (s *Server) EmergencyRevokeEnclave(ctx context.Context, req *RevokeEnclaveRequest) (*Empty, error) {
	return &Empty{}, s.reg.EmergencyRevokeEnclave(req.Caller.subject(), req.Measurement, req.Reason)
}

func (s *Server) ReinstateEnclave(ctx context.Context, req *RevokeEnclaveRequest) (*Empty, error) {
	return &Empty{}, s.reg.ReinstateEnclave(req.Caller.subject(), req.Measurement)
}

func (s *Server) AddGateway(ctx context.Context, req *GatewayRequest) (*Empty, error) {
	return &Empty{}, s.reg.AddGateway(req.Caller.subject(), req.Addr)
}

func (s *Server) RemoveGateway(ctx context.Context, req *GatewayRequest) (*Empty, error) {
	return &Empty{}, s.reg.RemoveGateway(req.Caller.subject(), req.Addr)
}
