package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrNotAcknowledged is returned when the collector closes the stream without
// a positive ack for the reported task.
var ErrNotAcknowledged = errors.New("result not acknowledged")

// DefaultTimeout bounds a single Report call.
const DefaultTimeout = 10 * time.Second

// Client reports task results to a ResultCollector.
type Client struct {
	conn    *grpc.ClientConn
	rpc     ResultCollectorClient
	timeout time.Duration
}

// NewClient creates a client for target. Connections are insecure unless
// opts carry transport credentials. The connection is established lazily.
func NewClient(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return &Client{conn: conn, rpc: NewResultCollectorClient(conn), timeout: timeout}, nil
}

// Report sends res and waits for an ack with a matching task id and
// received=true.
func (c *Client) Report(ctx context.Context, res *Result) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.rpc.ReportResult(ctx)
	if err != nil {
		return fmt.Errorf("open report stream for %s: %w", res.TaskID, err)
	}
	if err := stream.Send(res); err != nil {
		return fmt.Errorf("send result for %s: %w", res.TaskID, err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send for %s: %w", res.TaskID, err)
	}

	for {
		ack, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("report %s: %w", res.TaskID, ErrNotAcknowledged)
		}
		if err != nil {
			return fmt.Errorf("receive ack for %s: %w", res.TaskID, err)
		}
		if ack.TaskID == res.TaskID && ack.Received {
			return nil
		}
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
