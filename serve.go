package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	analysis "bloodtest/analyser-app/services/analysis_service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Endpoints:
  GET  /           health check
  GET  /pipelines  pipelines this server can run
  POST /analyze    multipart upload: file, query, pipeline (optional)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	crews, err := crewRunners(a)
	if err != nil {
		return err
	}
	defaultPipeline := a.pipeline("")
	if defaultPipeline == "" {
		defaultPipeline = a.catalog.DefaultPipeline
	}
	if defaultPipeline == "" {
		defaultPipeline = a.catalog.Pipelines[0].Name
	}
	svc, err := analysis.New(crews, analysis.Options{
		UploadDir:       a.cfg.Uploads.Dir,
		MaxUploadBytes:  a.cfg.Uploads.MaxBytes,
		DefaultPipeline: defaultPipeline,
		RunTimeout:      a.cfg.Server.RunTimeout,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: addr, Handler: svc.Router()}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr, "pipelines", svc.Pipelines(), "default", defaultPipeline)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// crewRunners builds every pipeline once at startup so a bad catalog stops
// the server before it listens.
func crewRunners(a *app) (map[string]analysis.Runner, error) {
	crews, err := buildAll(a)
	if err != nil {
		return nil, err
	}
	runners := make(map[string]analysis.Runner, len(crews))
	for name, c := range crews {
		runners[name] = c
	}
	return runners, nil
}
