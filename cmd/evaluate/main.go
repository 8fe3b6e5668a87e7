package main

import (
	"fmt"
	"os"

	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/evaluator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	outputPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evaluate <results-file>",
		Short: "Compute attack effectiveness metrics from recorded outcomes",
		Long: `Read a results file (a single outcome, a list of outcomes, or a batch
summary), compute aggregate and per-strategy metrics, and print a report.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(args[0])
		},
	}
	rootCmd.Flags().StringVar(&cfgPath, "config", "./configs/config.yaml", "path to config file")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "also write the full report as JSON to this path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEvaluate(resultsPath string) error {
	bootstrapLogger := logrus.New()
	cfg := config.LoadOrDefault(cfgPath, bootstrapLogger)
	logger := config.InitLogger(&cfg.Log)

	eval := evaluator.NewEvaluator(logger)

	outcomes, err := eval.Load(resultsPath)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	metrics := eval.Evaluate(outcomes)
	evaluator.PrintReport(os.Stdout, metrics)

	if metrics.SuccessRate < cfg.Attack.TargetSuccessRate {
		fmt.Printf("\nNote: success rate %.4f is below the configured target %.4f\n",
			metrics.SuccessRate, cfg.Attack.TargetSuccessRate)
	}

	if outputPath != "" {
		if err := evaluator.SaveReport(outputPath, metrics, outcomes); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		logger.WithField("path", outputPath).Info("Report saved")
	}
	return nil
}
