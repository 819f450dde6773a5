package streaming

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/machine"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const subscriberBuffer = 1024

// RigService serves RigServer on top of a running controller.
type RigService struct {
	ctrl   *machine.Controller
	logger *zap.Logger
}

func NewRigService(ctrl *machine.Controller, logger *zap.Logger) *RigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RigService{ctrl: ctrl, logger: logger}
}

// Execute runs one command line. Protocol errors are part of the result,
// not RPC errors.
func (s *RigService) Execute(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	replies, err := s.ctrl.Submit(ctx, req.GetValue())
	if err != nil && !command.IsProtocolError(err) {
		return nil, rpcError(err)
	}

	fields := map[string]any{
		"line":    req.GetValue(),
		"replies": toList(replies),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return structpb.NewStruct(fields)
}

func (s *RigService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.ctrl.GetStatus()
	return structpb.NewStruct(map[string]any{
		"state":           string(st.State),
		"stations":        st.Stations,
		"capacity":        st.Capacity,
		"poll_interval":   st.PollInterval,
		"polls":           st.Polls,
		"commands":        st.Commands,
		"protocol_errors": st.ProtocolErrors,
		"clock_us":        st.ClockMicros,
	})
}

// StreamEvents sends every station event until the client goes away or the
// controller stops.
func (s *RigService) StreamEvents(_ *emptypb.Empty, stream RigService_StreamEventsServer) error {
	sub := s.ctrl.Events().Subscribe("grpc", subscriberBuffer)
	defer sub.Close()

	s.logger.Info("Event stream opened")
	defer s.logger.Info("Event stream closed", zap.Uint64("dropped", sub.Dropped()))

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			msg, err := EventToStruct(ev)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-s.ctrl.Done():
			return status.Error(codes.Unavailable, machine.ErrNotRunning.Error())

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func EventToStruct(ev station.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"station_id": ev.StationID,
		"tag":        string(rune(ev.Tag)),
		"event":      ev.Tag.Name(),
		"line":       ev.String(),
		"clock_us":   ev.AtMicros,
	})
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, machine.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func toList(lines []string) []any {
	out := make([]any, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}

// LoggingInterceptor logs every unary call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("gRPC call", fields...)
		}
		return resp, err
	}
}
