package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libpass-attack/libpass-attack-go/internal/campaign"
	"github.com/libpass-attack/libpass-attack-go/internal/config"
	"github.com/libpass-attack/libpass-attack-go/internal/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath string

	apkPath    string
	tplPath    string
	tplName    string
	androidJar string
	outputDir  string

	detectorType  string
	maxIterations int
	nativeBatch   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attack",
		Short: "Drive the LibPass bytecode transformation engine against APKs",
		Long: `Run TPL detector evasion attacks against one APK or a directory of APKs.

The basic mode applies the engine's fixed strategy set once per APK.
The automated mode iterates transformations against a concrete detector
until the library is no longer identified or the iteration budget runs out.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./configs/config.yaml", "path to config file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAutoCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a basic attack (fixed strategy set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttack(false)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func newAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run an automated attack against a concrete detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttack(true)
		},
	}
	addCommonFlags(cmd)
	cmd.Flags().StringVar(&detectorType, "detector", "", "detector to evade (LibScan, LibPecker, LibHunter, LiteRadar, LibLoom)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget per APK (0 uses config default)")
	cmd.Flags().BoolVar(&nativeBatch, "native-batch", false, "hand the whole directory to the engine's batch entry point in one process")
	return cmd
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apkPath, "apk", "", "APK file or directory of APKs (required)")
	cmd.Flags().StringVar(&tplPath, "tpl", "", "target TPL jar path (required)")
	cmd.Flags().StringVar(&tplName, "tpl-name", "", "target TPL name (required)")
	cmd.Flags().StringVar(&androidJar, "android-jar", "", "android.jar path (overrides config)")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (overrides config)")
	cmd.MarkFlagRequired("apk")
	cmd.MarkFlagRequired("tpl")
	cmd.MarkFlagRequired("tpl-name")
}

func runAttack(automated bool) error {
	bootstrapLogger := logrus.New()
	cfg := config.LoadOrDefault(cfgPath, bootstrapLogger)
	logger := config.InitLogger(&cfg.Log)

	info, err := os.Stat(apkPath)
	if err != nil {
		return fmt.Errorf("apk path unavailable: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	invoker := engine.NewInvoker(cfg, engine.NewRunner(), logger)

	if info.IsDir() {
		return runBatch(ctx, cfg, invoker, logger, automated)
	}
	if nativeBatch {
		return fmt.Errorf("--native-batch requires --apk to be a directory")
	}
	return runSingle(ctx, invoker, automated)
}

// runSingle 单 APK 攻击，引擎失败时以非零退出码结束
func runSingle(ctx context.Context, invoker *engine.Invoker, automated bool) error {
	var outcome *engine.AttackOutcome
	if automated {
		outcome = invoker.InvokeAutomated(ctx, &engine.AutomatedRequest{
			APKPath:       apkPath,
			TPLPath:       tplPath,
			TPLName:       tplName,
			AndroidJar:    androidJar,
			OutputDir:     outputDir,
			DetectorType:  detectorType,
			MaxIterations: maxIterations,
		})
	} else {
		outcome = invoker.InvokeBasic(ctx, &engine.BasicRequest{
			APKPath:    apkPath,
			TPLPath:    tplPath,
			TPLName:    tplName,
			AndroidJar: androidJar,
			OutputDir:  outputDir,
		})
	}

	if !outcome.Success {
		return fmt.Errorf("attack failed (%s): %s", outcome.ErrorKind, outcome.Error)
	}

	fmt.Printf("Attack completed, overall success rate: %.4f\n", outcome.OverallSuccessRate)
	if outcome.AutoResult != nil {
		fmt.Printf("Detector evaded: %v (iterations: %d)\n",
			outcome.AutoResult.AttackSuccess, outcome.AutoResult.Iterations)
	}
	for _, s := range outcome.Results {
		fmt.Printf("  %-24s %.4f\n", s.StrategyName, s.SuccessRate)
	}
	return nil
}

// runBatch 目录批量攻击，单条失败不中断整个批次
func runBatch(ctx context.Context, cfg *config.Config, invoker *engine.Invoker, logger *logrus.Logger, automated bool) error {
	orch := campaign.NewOrchestrator(cfg, invoker, logger)
	req := &campaign.BatchRequest{
		APKDir:        apkPath,
		TPLPath:       tplPath,
		TPLName:       tplName,
		AndroidJar:    androidJar,
		OutputDir:     outputDir,
		Automated:     automated,
		DetectorType:  detectorType,
		MaxIterations: maxIterations,
	}

	var summary *campaign.BatchSummary
	var err error
	if nativeBatch {
		summary, err = orch.RunNative(ctx, req)
	} else {
		summary, err = orch.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Batch completed: %d total, %d successful, %d failed, average rate %.4f\n",
		summary.TotalAPKs, summary.SuccessfulAttacks, summary.FailedAttacks, summary.AverageSuccessRate)
	return nil
}

// signalContext Ctrl-C 时取消正在执行的引擎子进程
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
