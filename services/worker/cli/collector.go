package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/ramiqadoumi/go-task-lease/internal/reporter"
)

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run a ResultCollector that logs every reported result",
	Long: `Serve taskresult.v1.ResultCollector and acknowledge every result after
logging it. Useful as a local sink for --reporter-target.`,
	Args: cobra.NoArgs,
	RunE: runCollector,
}

func init() {
	collectorCmd.Flags().String("listen", ":50051", "gRPC listen address")
}

func runCollector(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("listen")
	logger := buildLogger(viper.GetString("log_level"), "collector")

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	reporter.RegisterResultCollectorServer(srv, reporter.NewCollector(func(_ context.Context, res *reporter.Result) error {
		logger.Info("result",
			slog.String("task_id", res.TaskID),
			slog.String("status", string(res.Status)),
			slog.String("result_data", string(res.ResultData)),
			slog.Time("timestamp", res.Timestamp),
		)
		return nil
	}, logger))
	reflection.Register(srv)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	logger.Info("collector listening", slog.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
