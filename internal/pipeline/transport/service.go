package transport

import (
	"context"
	"errors"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/caracal-sh/caracal/internal/pipeline"
)

const (
	serviceName   = "caracal.pipeline.EventPipeline"
	publishMethod = "/" + serviceName + "/Publish"
)

// Publisher is the server-side hook invoked for every event received over
// the wire. The writer process wires this to a pipeline.Queue's Publish.
type Publisher interface {
	Publish(ctx context.Context, evt *pipeline.Event) error
}

type publishRequest struct {
	Event *pipeline.Event `json:"event"`
}

type publishResponse struct{}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(publishRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return handlePublish(ctx, srv, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return handlePublish(ctx, srv, req.(*publishRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handlePublish(ctx context.Context, srv interface{}, req *publishRequest) (interface{}, error) {
	p, ok := srv.(Publisher)
	if !ok {
		return nil, status.Error(codes.Internal, "transport: server does not implement Publisher")
	}
	if req.Event == nil {
		return nil, status.Error(codes.InvalidArgument, "transport: missing event")
	}
	if err := p.Publish(ctx, req.Event); err != nil {
		if errors.Is(err, pipeline.ErrBackpressureTimeout) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "transport: publish: %v", err)
	}
	return &publishResponse{}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Publisher)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Metadata: "caracal/pipeline",
}

// NewServer wraps impl in a *grpc.Server configured with the JSON codec and
// otelgrpc stats handler (§11 domain stack: otel spans the pipeline hop).
func NewServer(impl Publisher, extra ...grpc.ServerOption) *grpc.Server {
	opts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(Codec),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}, extra...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, impl)
	return srv
}
