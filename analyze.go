package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bloodtest/analyser-app/core"
	"bloodtest/analyser-app/crew"
	analysis "bloodtest/analyser-app/services/analysis_service"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	analyzeFile     string
	analyzeQuery    string
	analyzePipeline string
	analyzeJSON     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse one report locally",
	Long: `Run a crew against a report on disk and print the analysis.

The report is read in place and never deleted. Exits with status 1 when
the run fails.`,
	Example: `  analyser analyze --file report.pdf
  analyser analyze --file report.pdf --query "Is my iron low?" --pipeline full-report`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "path to the blood test report (PDF or text)")
	analyzeCmd.Flags().StringVarP(&analyzeQuery, "query", "q", analysis.DefaultQuery, "question to answer")
	analyzeCmd.Flags().StringVarP(&analyzePipeline, "pipeline", "p", "", "pipeline to run (overrides crew.pipeline)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full run result as JSON")
	_ = analyzeCmd.MarkFlagRequired("file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, os.Stderr)
	if err != nil {
		return err
	}
	c, err := crew.Build(a.catalog, a.pipeline(analyzePipeline), a.deps)
	if err != nil {
		return describeBuildError(err)
	}

	query := analyzeQuery
	if query == "" {
		query = analysis.DefaultQuery
	}
	result := c.Run(ctx, core.RunRequest{Query: query, DocumentPath: analyzeFile})
	printResult(cmd, c.GetName(), result)
	if !result.Succeeded() {
		return fmt.Errorf("run %s failed", result.RunID)
	}
	return nil
}

func printResult(cmd *cobra.Command, pipeline string, result core.RunResult) {
	out := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	bold := color.New(color.Bold)
	if result.Succeeded() {
		printStatus(out, "✓", fmt.Sprintf("%s run %s succeeded", pipeline, result.RunID), color.FgGreen)
	} else {
		printStatus(out, "✗", fmt.Sprintf("%s run %s failed", pipeline, result.RunID), color.FgRed)
		if result.Error != nil {
			fmt.Fprintf(out, "  %s %s", bold.Sprint("error:"), result.Error.Message)
			if result.Error.Task != "" {
				fmt.Fprintf(out, " (task %s)", result.Error.Task)
			}
			fmt.Fprintln(out)
		}
	}

	for _, task := range result.Tasks {
		fmt.Fprintf(out, "  %s %s/%s: %d iterations, %d tool calls\n",
			color.CyanString("•"), task.Task, task.Agent, task.Iterations, task.ToolCalls)
	}
	fmt.Fprintf(out, "  %s %d tokens in %s\n\n", color.CyanString("•"), result.Stats.TotalTokenCount, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	if result.Text != "" {
		bold.Fprintln(out, "Analysis")
		fmt.Fprintln(out, result.Text)
	}
}
