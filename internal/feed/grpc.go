package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/tokens"
)

const (
	ServiceName = "tsalarms.v1.AlarmFeed"
	watchMethod = "/" + ServiceName + "/Watch"
)

// AlarmFeedServer streams envelopes as google.protobuf.Struct messages.
// The request is a Struct with an optional "camera_id" string field.
type AlarmFeedServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(AlarmFeedServer).Watch(req, stream)
}

var AlarmFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "tsalarms/v1/feed.proto",
}

// RegisterAlarmFeedServer attaches srv to s.
func RegisterAlarmFeedServer(s grpc.ServiceRegistrar, srv AlarmFeedServer) {
	s.RegisterService(&AlarmFeedServiceDesc, srv)
}

type claimsKey struct{}

// GRPCServer serves the hub over gRPC.
type GRPCServer struct {
	hub *Hub
}

func NewGRPCServer(hub *Hub) *GRPCServer {
	return &GRPCServer{hub: hub}
}

func (s *GRPCServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	filter := Filter{CameraID: req.GetFields()["camera_id"].GetStringValue()}
	if claims, ok := ctx.Value(claimsKey{}).(*tokens.Claims); ok {
		if filter.CameraID != "" && !claims.AllowsCamera(filter.CameraID) {
			return status.Error(codes.PermissionDenied, tokens.ErrCameraDenied.Error())
		}
		filter.Allow = claims.AllowsCamera
	}

	sub := s.hub.Subscribe(filter)
	defer sub.Close()
	logger.DebugKV(ctx, "grpc feed subscriber attached", "camera", filter.CameraID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			msg, err := EnvelopeToStruct(env)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// TokenValidator checks viewer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*tokens.Claims, error)
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// StreamAuthInterceptor requires "authorization: Bearer <viewer token>"
// metadata and makes the claims available to handlers.
func StreamAuthInterceptor(v TokenValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, _ := metadata.FromIncomingContext(ss.Context())
		vals := md.Get("authorization")
		if len(vals) == 0 || !strings.HasPrefix(vals[0], "Bearer ") {
			return status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := v.ValidateToken(strings.TrimPrefix(vals[0], "Bearer "))
		if err != nil {
			return status.Error(codes.Unauthenticated, "invalid token")
		}
		ctx := context.WithValue(ss.Context(), claimsKey{}, claims)
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// EnvelopeToStruct converts an envelope through its JSON form.
func EnvelopeToStruct(env alarms.Envelope) (*structpb.Struct, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToEnvelope is the inverse of EnvelopeToStruct.
func StructToEnvelope(s *structpb.Struct) (alarms.Envelope, error) {
	var env alarms.Envelope
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(raw, &env)
	return env, err
}

// WatchClient reads a server stream opened by Watch.
type WatchClient struct {
	stream grpc.ClientStream
}

// Watch opens a feed stream; an empty cameraID watches every allowed camera.
func Watch(ctx context.Context, cc grpc.ClientConnInterface, cameraID string, opts ...grpc.CallOption) (*WatchClient, error) {
	stream, err := cc.NewStream(ctx, &AlarmFeedServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"camera_id": cameraID})
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream: stream}, nil
}

// Recv blocks for the next envelope.
func (c *WatchClient) Recv() (alarms.Envelope, error) {
	msg := new(structpb.Struct)
	if err := c.stream.RecvMsg(msg); err != nil {
		return alarms.Envelope{}, err
	}
	env, err := StructToEnvelope(msg)
	if err != nil {
		return alarms.Envelope{}, errors.Join(errors.New("decode feed message"), err)
	}
	return env, nil
}
