package reporter

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
)

// HandleFunc processes one received result. A nil error acks it.
type HandleFunc func(ctx context.Context, res *Result) error

// Collector is a ResultCollectorServer that hands each result to a HandleFunc.
type Collector struct {
	handle HandleFunc
	logger *slog.Logger
}

// NewCollector returns a Collector. A nil handle acks every result.
func NewCollector(handle HandleFunc, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{handle: handle, logger: logger}
}

func (c *Collector) ReportResult(stream grpc.BidiStreamingServer[Result, Ack]) error {
	ctx := stream.Context()
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		received := true
		if c.handle != nil {
			if err := c.handle(ctx, res); err != nil {
				received = false
				c.logger.Warn("result rejected",
					slog.String("task_id", res.TaskID),
					slog.String("error", err.Error()),
				)
			}
		}
		c.logger.Info("result received",
			slog.String("task_id", res.TaskID),
			slog.String("status", string(res.Status)),
			slog.Bool("acked", received),
		)

		if err := stream.Send(&Ack{TaskID: res.TaskID, Received: received}); err != nil {
			return err
		}
	}
}
