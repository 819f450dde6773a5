package streaming

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrRejected wraps the "#" reply of a command the rig refused.
var ErrRejected = errors.New("command rejected")

type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Execute returns the reply lines. A protocol error yields the replies and
// an error wrapping ErrRejected.
func (c *Client) Execute(ctx context.Context, line string, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeMethod, wrapperspb.String(line), out, opts...); err != nil {
		return nil, err
	}

	var replies []string
	for _, v := range out.GetFields()["replies"].GetListValue().GetValues() {
		replies = append(replies, v.GetStringValue())
	}
	if msg := out.GetFields()["error"].GetStringValue(); msg != "" {
		return replies, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return replies, nil
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// EventStream is the client side of StreamEvents.
type EventStream struct {
	stream grpc.ClientStream
}

func (c *Client) StreamEvents(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &RigServiceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (s *EventStream) Recv() (station.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return station.Event{}, err
	}
	return StructToEvent(msg)
}

func StructToEvent(msg *structpb.Struct) (station.Event, error) {
	fields := msg.GetFields()
	tag := fields["tag"].GetStringValue()
	if len(tag) != 1 {
		return station.Event{}, fmt.Errorf("invalid event tag %q", tag)
	}
	return station.Event{
		Tag:       station.Tag(tag[0]),
		StationID: int(fields["station_id"].GetNumberValue()),
		AtMicros:  uint32(fields["clock_us"].GetNumberValue()),
	}, nil
}
