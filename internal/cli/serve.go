package cli

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/artifact-policy-check/internal/server"
	"github.com/docker/artifact-policy-check/pkg/checks"
	"github.com/docker/artifact-policy-check/pkg/config"
	"github.com/docker/artifact-policy-check/pkg/evaluation"
	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/docker/artifact-policy-check/pkg/policy"
	"github.com/docker/artifact-policy-check/pkg/retry"
	"github.com/docker/artifact-policy-check/pkg/telemetry"
	"github.com/docker/artifact-policy-check/pkg/timeline"
	"github.com/docker/artifact-policy-check/pkg/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the policy check endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			log, err := cfg.Logging.NewLogger()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&address, "address", "", "HTTP listen address (overrides config)")

	return cmd
}

type service struct {
	handler   http.Handler
	pool      *worker.Pool
	publisher *telemetry.HTTPPublisher
}

func newService(cfg *config.Config, log logrus.FieldLogger) (*service, error) {
	httpClient := pipeline.NewHTTPClient(cfg.Delivery.RequestTimeout.Std())
	caller := retry.NewCaller(
		retry.WithMaxAttempts(cfg.Delivery.MaxAttempts),
		retry.WithRetryWait(cfg.Delivery.RetryWaitMin.Std(), cfg.Delivery.RetryWaitMax.Std()),
	)
	pool := worker.NewPool(&worker.Options{
		Workers:    cfg.Workers.Count,
		QueueSize:  cfg.Workers.QueueSize,
		JobTimeout: cfg.Evaluation.Timeout.Std(),
		Log:        log.WithField("component", "worker"),
	})

	opts := &evaluation.Options{
		Reporter: checks.NewReporter(
			checks.WithHTTPClient(httpClient),
			checks.WithCaller(caller),
			checks.WithMaxMessageBytes(cfg.Delivery.MaxMessageBytes),
		),
		Timelines:              timeline.NewClient(httpClient),
		Scheduler:              pool,
		Log:                    log.WithField("component", "evaluation"),
		ReportEvaluationErrors: cfg.Evaluation.ReportErrors,
	}
	svc := &service{pool: pool}
	if cfg.Telemetry.Enabled {
		svc.publisher = telemetry.NewHTTPPublisher(httpClient, cfg.Telemetry.Timeout.Std(), log.WithField("component", "telemetry"))
		opts.Publisher = svc.publisher
	}

	orch, err := evaluation.NewOrchestrator(policy.NewRegoEvaluator(cfg.Evaluation.Debug), opts)
	if err != nil {
		_ = pool.Shutdown(context.Background())
		return nil, err
	}
	svc.handler = server.NewHandler(orch, &server.Options{
		Route: cfg.Server.Route,
		Log:   log.WithField("component", "server"),
	})
	return svc, nil
}

// shutdown drains background evaluations and pending telemetry.
func (s *service) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.publisher != nil {
		if err := s.publisher.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	svc, err := newService(cfg, log)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		_ = svc.shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}
	errorLog := log.WriterLevel(logrus.WarnLevel)
	defer errorLog.Close()
	httpServer := &http.Server{
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(errorLog, "", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", listener.Addr().String()).Info("serving policy checks")
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		_ = svc.shutdown(context.Background())
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down server: %w", err))
	}
	if err := svc.shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
