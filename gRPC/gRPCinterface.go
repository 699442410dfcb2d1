package proto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"EmotionDetServer/capture"
	"EmotionDetServer/monitor"
	"EmotionDetServer/pipeline"
	"EmotionDetServer/server"
	"EmotionDetServer/status"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Controller interface {
	Initialize(ctx context.Context) error
	Toggle(ctx context.Context) (bool, error)
	Snapshot() status.Snapshot
	Subscribe(buffer int) (<-chan status.Snapshot, func())
	ClassifyImage(img *gocv.Mat) (pipeline.Result, error)
}

type Server struct {
	ctrl Controller
	log  *zap.Logger
	// CloseChannel receives once when a client requests shutdown.
	CloseChannel chan struct{}
}

func NewServer(ctrl Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{ctrl: ctrl, log: log, CloseChannel: make(chan struct{}, 1)}
}

func snapshotFields(s status.Snapshot) map[string]any {
	return map[string]any{
		"state":      s.StateName,
		"status":     s.Status,
		"active":     s.Active,
		"label":      s.Estimate.Label,
		"confidence": s.Estimate.Confidence,
		"emoji":      s.Emoji,
		"mood":       s.Mood,
		"updatedAt":  s.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func toStatusError(err error) error {
	var ce *capture.CaptureError
	switch {
	case errors.Is(err, status.ErrNotReady):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &ce):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	return toStruct(snapshotFields(s.ctrl.Snapshot()))
}

func (s *Server) Initialize(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	if err := s.ctrl.Initialize(ctx); err != nil {
		s.log.Error("initialize failed", zap.Error(err))
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	return toStruct(snapshotFields(s.ctrl.Snapshot()))
}

func (s *Server) Toggle(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	active, err := s.ctrl.Toggle(ctx)
	if err != nil {
		return nil, toStatusError(err)
	}
	fields := snapshotFields(s.ctrl.Snapshot())
	fields["active"] = active
	return toStruct(fields)
}

func (s *Server) Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	mat, err := server.BytesToMat(req.GetValue())
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	defer mat.Close()

	res, err := s.ctrl.ClassifyImage(&mat)
	if err != nil {
		return nil, toStatusError(err)
	}
	fields := map[string]any{"found": res.Found}
	if res.Found {
		fields["label"] = res.Estimate.Label
		fields["confidence"] = res.Estimate.Confidence
		fields["x"] = res.Face.Min.X
		fields["y"] = res.Face.Min.Y
		fields["width"] = res.Face.Dx()
		fields["height"] = res.Face.Dy()
	}
	return toStruct(fields)
}

func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	select {
	case s.CloseChannel <- struct{}{}:
		s.log.Warn("shutdown requested over gRPC")
	default:
	}
	return &emptypb.Empty{}, nil
}

// Watch streams the current snapshot and then every change until the client
// cancels.
func (s *Server) Watch(_ *emptypb.Empty, stream EmotionService_WatchServer) error {
	monitor.GRPCTotal.Inc()
	updates, cancel := s.ctrl.Subscribe(16)
	defer cancel()

	send := func(snap status.Snapshot) error {
		st, err := toStruct(snapshotFields(snap))
		if err != nil {
			return err
		}
		return stream.Send(st)
	}
	if err := send(s.ctrl.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(snap); err != nil {
				return err
			}
		}
	}
}

// StartGRPCServer listens on port and serves srv in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s := grpc.NewServer()
	RegisterEmotionServiceServer(s, srv)
	go func() {
		srv.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			srv.log.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// StopGRPCServer drains in-flight calls, forcing open streams closed after
// timeout.
func StopGRPCServer(s *grpc.Server, timeout time.Duration) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.Stop()
	}
}
