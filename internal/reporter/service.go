package reporter

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName        = "taskresult.v1.ResultCollector"
	reportResultMethod = "/" + serviceName + "/ReportResult"
)

// ResultCollectorServer is implemented by services that accept task results.
type ResultCollectorServer interface {
	ReportResult(stream grpc.BidiStreamingServer[Result, Ack]) error
}

// ResultCollectorClient opens ReportResult streams.
type ResultCollectorClient interface {
	ReportResult(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Result, Ack], error)
}

// ServiceDesc describes the ResultCollector service. Both sides must use the
// json content-subtype.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ResultCollectorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ReportResult",
			Handler:       reportResultHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "taskresult/v1/result.proto",
}

// RegisterResultCollectorServer registers srv on s.
func RegisterResultCollectorServer(s grpc.ServiceRegistrar, srv ResultCollectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func reportResultHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ResultCollectorServer).ReportResult(&grpc.GenericServerStream[Result, Ack]{ServerStream: stream})
}

type resultCollectorClient struct {
	cc grpc.ClientConnInterface
}

// NewResultCollectorClient returns a client for the ResultCollector service.
func NewResultCollectorClient(cc grpc.ClientConnInterface) ResultCollectorClient {
	return &resultCollectorClient{cc: cc}
}

func (c *resultCollectorClient) ReportResult(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Result, Ack], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], reportResultMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Result, Ack]{ClientStream: stream}, nil
}
