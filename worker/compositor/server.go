package compositor

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/stacomp/processor"
	"github.com/nci/stacomp/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type server struct {
	Pool   *WorkerPool
	logger *zap.Logger
}

func NewServer(pool *WorkerPool, logger *zap.Logger) CompositorServer {
	return &server{Pool: pool, logger: utils.OrNop(logger)}
}

func (s *server) Composite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	job, err := JobFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	task := NewTask(ctx, job)
	task.RequestBytes = proto.Size(in)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		task.RemoteAddr = p.Addr.String()
	}
	s.Pool.AddQueue(task)

	select {
	case out := <-task.Resp:
		return out.ToStruct()
	case err := <-task.Error:
		return nil, toStatus(err)
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, processor.ErrNoItems):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, processor.ErrInvalidPercentile), errors.Is(err, processor.ErrNoBands):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, fmt.Sprintf("Error in ops: %v", err))
}

// NewGRPCServer registers srv on a gRPC server accepting messages up to
// maxRecvMsgSize bytes.
func NewGRPCServer(srv CompositorServer, maxRecvMsgSize int) *grpc.Server {
	if maxRecvMsgSize <= 0 {
		maxRecvMsgSize = utils.DefaultRecvMsgSize
	}
	s := grpc.NewServer(grpc.MaxRecvMsgSize(maxRecvMsgSize))
	RegisterCompositorServer(s, srv)
	return s
}

// ListenAndServe serves s on a SO_REUSEPORT listener until ctx is done.
func ListenAndServe(ctx context.Context, addr string, s *grpc.Server, logger *zap.Logger) error {
	lis, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	utils.OrNop(logger).Info("compositor listening", zap.String("address", lis.Addr().String()))
	return s.Serve(lis)
}
