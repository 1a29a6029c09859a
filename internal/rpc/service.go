package rpc

import (
	"context"
	"errors"

	"github.com/echenim/Bedrock/contracts/internal/codecache"
	"github.com/echenim/Bedrock/contracts/internal/execution"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName is the fully qualified gRPC name of the Executive service.
const serviceName = "contracts.v1.Executive"

// ExecutiveServer is the server API of the Executive service.
type ExecutiveServer interface {
	Call(context.Context, *CallRequest) (*ExecResponse, error)
	Instantiate(context.Context, *InstantiateRequest) (*ExecResponse, error)
	UploadCode(context.Context, *UploadCodeRequest) (*UploadCodeResponse, error)
	GetContract(context.Context, *GetContractRequest) (*GetContractResponse, error)
	GetStorage(context.Context, *GetStorageRequest) (*GetStorageResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
}

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](method string, call func(ExecutiveServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExecutiveServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExecutiveServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ExecutiveServiceDesc describes the Executive service for grpc.Server.
var ExecutiveServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExecutiveServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Call", ExecutiveServer.Call),
		unaryHandler("Instantiate", ExecutiveServer.Instantiate),
		unaryHandler("UploadCode", ExecutiveServer.UploadCode),
		unaryHandler("GetContract", ExecutiveServer.GetContract),
		unaryHandler("GetStorage", ExecutiveServer.GetStorage),
		unaryHandler("GetBalance", ExecutiveServer.GetBalance),
	},
	Streams: []grpc.StreamDesc{},
}

// Service implements ExecutiveServer over an Executive.
type Service struct {
	exec   *execution.Executive
	logger *zap.Logger
}

var _ ExecutiveServer = (*Service)(nil)

// NewService creates the Executive service.
func NewService(exec *execution.Executive, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{exec: exec, logger: logger}
}

// Call runs a top-level call.
func (s *Service) Call(ctx context.Context, req *CallRequest) (*ExecResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	in, err := req.toExecution()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.exec.Call(req.Block.block(), in)
	if err != nil {
		return nil, s.internal("call", err)
	}
	return execResponse(out), nil
}

// Instantiate deploys a contract.
func (s *Service) Instantiate(ctx context.Context, req *InstantiateRequest) (*ExecResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	in, err := req.toExecution()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.exec.Instantiate(req.Block.block(), in)
	if err != nil {
		return nil, s.internal("instantiate", err)
	}
	return execResponse(out), nil
}

// UploadCode validates and stores a module.
func (s *Service) UploadCode(ctx context.Context, req *UploadCodeRequest) (*UploadCodeResponse, error) {
	code, err := decodeHex("code", req.Code)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h, err := s.exec.UploadCode(code)
	if errors.Is(err, codecache.ErrInvalidCode) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, s.internal("upload code", err)
	}
	return &UploadCodeResponse{CodeHash: h.String()}, nil
}

// GetContract returns the record of a contract.
func (s *Service) GetContract(ctx context.Context, req *GetContractRequest) (*GetContractResponse, error) {
	addr, err := decodeAddress("address", req.Address)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	info, err := s.exec.ContractInfo(addr)
	if err != nil {
		return nil, s.internal("get contract", err)
	}
	return contractResponse(info), nil
}

// GetStorage returns a committed storage value.
func (s *Service) GetStorage(ctx context.Context, req *GetStorageRequest) (*GetStorageResponse, error) {
	addr, err := decodeAddress("address", req.Address)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key, err := decodeHex("key", req.Key)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	v, err := s.exec.GetStorage(addr, key)
	if err != nil {
		return nil, s.internal("get storage", err)
	}
	if v == nil {
		return &GetStorageResponse{}, nil
	}
	return &GetStorageResponse{Found: true, Value: hexString(v)}, nil
}

// GetBalance returns the free balance of an account.
func (s *Service) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	addr, err := decodeAddress("address", req.Address)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	bal, err := s.exec.BalanceOf(addr)
	if err != nil {
		return nil, s.internal("get balance", err)
	}
	return &GetBalanceResponse{Balance: bal.Dec()}, nil
}

func (s *Service) internal(op string, err error) error {
	s.logger.Error("executive request failed", zap.String("op", op), zap.Error(err))
	return status.Error(codes.Internal, op+": "+err.Error())
}
