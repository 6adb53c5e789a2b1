package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/payables/internal/api"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/config"
	"github.com/mmynk/payables/internal/dispatch"
	"github.com/mmynk/payables/internal/ledger"
	"github.com/mmynk/payables/internal/lifecycle"
	"github.com/mmynk/payables/internal/matching"
	"github.com/mmynk/payables/internal/middleware"
	"github.com/mmynk/payables/internal/payments"
	"github.com/mmynk/payables/internal/service"
	"github.com/mmynk/payables/internal/storage/sqlite"
)

const (
	memoryQueueSize = 1024
	tokenDuration   = 12 * time.Hour
	shutdownTimeout = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API, the ingestion service and the match workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Bool("metrics", true, "expose Prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	withMetrics, _ := cmd.Flags().GetBool("metrics")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	queue, err := newQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()

	ctl := lifecycle.NewController(store)
	engine := matching.NewEngine(store, ctl, cfg.Matching, queue)

	dispatcher, err := dispatch.NewDispatcher(store, ctl, newSender(cfg.Dispatch), cfg.Dispatch)
	if err != nil {
		return err
	}

	staleAfter, _ := cfg.Matching.StaleAfterDuration()
	sweeper := matching.NewSweeper(store, queue, staleAfter)
	if err := sweeper.Start(cfg.Matching.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		matching.NewPool(queue, engine, cfg.Matching.Workers).Run(ctx)
	}()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, tokenDuration)

	apiServer := api.NewServer(ledger.NewService(store, ctl), payments.NewService(store, ctl), engine, dispatcher, jwtManager)
	if timeout, err := cfg.Server.RequestTimeoutDuration(); err == nil {
		apiServer.SetRequestTimeout(timeout)
	}
	if withMetrics {
		apiServer.EnableMetrics()
	}

	ingestPath, ingestHandler := service.NewIngestionServiceHandler(service.NewIngestionService(engine),
		connect.WithInterceptors(
			middleware.LoggingInterceptor(),
			middleware.RequireAuth(jwtManager, auth.IngestInvoices),
		),
	)

	mux := http.NewServeMux()
	mux.Handle(ingestPath, ingestHandler)
	mux.Handle("/", apiServer.Handler())

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		// h2c serves HTTP/2 without TLS for Connect and gRPC clients.
		Handler:           h2c.NewHandler(corsMiddleware(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", cfg.Server.Addr, "ingestion", ingestPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			workers.Wait()
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	workers.Wait()
	return nil
}

func newQueue(ctx context.Context, cfg config.QueueConfig) (matching.Queue, error) {
	if cfg.RedisAddr == "" {
		slog.Info("Using in-process match queue", "size", memoryQueueSize)
		return matching.NewMemoryQueue(memoryQueueSize), nil
	}
	q, err := matching.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisKey)
	if err != nil {
		return nil, err
	}
	slog.Info("Using Redis match queue", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
	return q, nil
}

func newSender(cfg config.DispatchConfig) dispatch.Sender {
	if cfg.WebhookURL == "" {
		slog.Warn("No dispatch webhook configured, invoice requests will only be logged")
		return dispatch.LogSender{}
	}
	return dispatch.NewWebhookSender(cfg.WebhookURL)
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
