package main

import (
	"fmt"
	"io"
	"os"

	"bloodtest/analyser-app/core"
	"bloodtest/analyser-app/crew"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var checkPipeline string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the crew catalog",
	Long: `Build every pipeline of the crew catalog (or just --pipeline) and report
configuration errors. No model is called.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkPipeline, "pipeline", "", "check a single pipeline")
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context(), os.Stderr)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if checkPipeline != "" {
		c, err := crew.Build(a.catalog, checkPipeline, a.deps)
		if err != nil {
			printStatus(out, "✗", checkPipeline+": "+err.Error(), color.FgRed)
			return describeBuildError(err)
		}
		printCrew(out, c)
		return nil
	}

	crews, err := buildAll(a)
	if err != nil {
		printStatus(out, "✗", err.Error(), color.FgRed)
		return err
	}
	for _, name := range a.catalog.PipelineNames() {
		printCrew(out, crews[name])
	}
	return nil
}

func buildAll(a *app) (map[string]*core.Crew, error) {
	crews, err := crew.BuildAll(a.catalog, a.deps)
	if err != nil {
		return nil, describeBuildError(err)
	}
	return crews, nil
}

func printCrew(w io.Writer, c *core.Crew) {
	printStatus(w, "✓", fmt.Sprintf("%s (%s)", c.GetName(), c.Composition()), color.FgGreen)
	for _, task := range c.Tasks() {
		agent := task.Agent()
		fmt.Fprintf(w, "    %-24s agent=%s tools=%v limit=%s\n", task.GetName(), agent.GetName(), task.Tools().Names(), agent.Limiter())
	}
}

func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	c.Fprintf(w, "%s ", symbol)
	fmt.Fprintln(w, message)
}
