package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"bloodtest/analyser-app/config"
	"bloodtest/analyser-app/core"
	"bloodtest/analyser-app/crew"
	"bloodtest/analyser-app/llm"
	"bloodtest/analyser-app/tools"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "analyser",
	Short: "Blood test report analyser",
	Long: `Analyses uploaded blood test reports with a crew of LLM agents.

A crew runs a pipeline of tasks in order. Each task is handled by an agent
that may read the report, search the web and consult the date before it
answers. Agents, tasks and pipelines come from a YAML catalog; the built-in
one is used unless crew.file is set.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./analyser.yaml or $XDG_CONFIG_HOME/analyser/analyser.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(checkCmd)
}

// app is everything a command needs to build crews.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *crew.Catalog
	deps    crew.Deps
}

func bootstrap(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	catalog, err := crew.Load(cfg.Crew.File)
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(cfg.ToolOptions())
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		catalog: catalog,
		deps: crew.Deps{
			Registry:   registry,
			Models:     llm.NewCache(ctx, cfg.LLMSettings(), cfg.ProviderDefaults()),
			RateWindow: cfg.Crew.RateWindow,
			Logger:     logger,
		},
	}, nil
}

func (a *app) pipeline(flag string) string {
	if flag != "" {
		return flag
	}
	return a.cfg.Crew.Pipeline
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// describeBuildError adds the config kind so a bad catalog reads clearly.
func describeBuildError(err error) error {
	var ce *core.ConfigError
	if errors.As(err, &ce) {
		return fmt.Errorf("invalid crew configuration (%s): %w", ce.Kind, err)
	}
	return err
}
