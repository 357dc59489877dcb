package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/spendgate/internal/httpapi"
	"github.com/ppiankov/spendgate/internal/server"
	"github.com/ppiankov/spendgate/internal/workflow"
)

var (
	serveGRPCAddr string
	serveHTTPAddr string
	serveNoHTTP   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address (default from config)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "Serve gRPC only")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and HTTP approval service",
	Long: "Serves the workflow over gRPC and a JWT-protected HTTP API.\n" +
		"Overdue expenses are escalated periodically and the rules file is hot-reloaded.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	grpcAddr := firstNonEmpty(serveGRPCAddr, a.cfg.Server.GRPCAddr)
	httpAddr := firstNonEmpty(serveHTTPAddr, a.cfg.Server.HTTPAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv := server.New(a.svc, server.Config{Addr: grpcAddr}, a.log)
	var httpSrv *httpapi.Server
	if !serveNoHTTP {
		httpSrv = httpapi.NewServer(a.svc, httpapi.Config{Addr: httpAddr, JWTSecret: a.cfg.Auth.JWTSecret}, a.log)
	}

	reloader, err := server.NewReloader(a.svc, a.cfg.RulesPath, a.log)
	if err != nil {
		a.log.Warn("hot-reload disabled", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(grpcSrv.Serve)
	if httpSrv != nil {
		g.Go(httpSrv.ListenAndServe)
	}
	if reloader != nil {
		g.Go(func() error { return reloader.Run(ctx) })
	}
	g.Go(func() error {
		sweepOverdue(ctx, a.svc, a.cfg.Server.EscalationEvery, a.log)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down")
		grpcSrv.GracefulStop()
		if httpSrv == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(os.Stderr, "spendgate serving gRPC on %s", grpcAddr)
	if httpSrv != nil {
		fmt.Fprintf(os.Stderr, ", HTTP on %s", httpAddr)
	}
	fmt.Fprintf(os.Stderr, "\nRules: %s (hot-reload enabled)\n\n", a.cfg.RulesPath)

	return g.Wait()
}

// sweepOverdue escalates overdue expenses every interval until ctx is done.
func sweepOverdue(ctx context.Context, svc *workflow.Service, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.EscalateOverdue(ctx)
			if err != nil && ctx.Err() == nil {
				log.Warn("escalation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("escalated overdue expenses", zap.Int("count", n))
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
