package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/caracal-sh/caracal/internal/pipeline"
)

// Client is a thin wrapper over a *grpc.ClientConn that gives a remote
// pipeline ingress the same Publish contract as a local pipeline.Queue.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a remote pipeline ingress. Callers must supply transport
// credentials via extra (e.g. grpc.WithTransportCredentials(insecure.
// NewCredentials()) for a local/dev deployment, or real TLS credentials in
// production).
func Dial(target string, extra ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, extra...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Publish sends evt to the remote pipeline ingress.
func (c *Client) Publish(ctx context.Context, evt *pipeline.Event) error {
	req := &publishRequest{Event: evt}
	resp := new(publishResponse)
	return c.conn.Invoke(ctx, publishMethod, req, resp, grpc.ForceCodec(Codec))
}
