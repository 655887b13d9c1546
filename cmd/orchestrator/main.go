package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/coderead/pkg/log"
	"github.com/cuemby/coderead/pkg/metrics"
	"github.com/cuemby/coderead/pkg/orchestrator"
	"github.com/cuemby/coderead/pkg/types"
	"github.com/spf13/cobra"

	"github.com/cuemby/coderead/pkg/config"
	nethttp "net/http"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "Repository analysis orchestrator",
	Long:    "Drives uploaded repositories through a Scan, Index, Analyze, Document pipeline, coordinating LLM and vector-index collaborators under a rate-limited worker pool.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orchestrator version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(healthCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator process",
	Long:  "Starts the admission loop, recovers orphaned tasks, and serves metrics until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		o, err := orchestrator.New(cfg)
		if err != nil {
			return fmt.Errorf("create orchestrator: %w", err)
		}
		defer o.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := o.Start(ctx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
		defer o.Stop()

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if metricsAddr == "" {
			metricsAddr = "127.0.0.1:9090"
		}
		go func() {
			nethttp.Handle("/metrics", metrics.Handler())
			if err := nethttp.ListenAndServe(metricsAddr, nil); err != nil {
				log.Errorf("metrics server error", err)
			}
		}()
		fmt.Printf("orchestrator running, metrics at http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("shutting down...")
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit REPOSITORY_ID",
	Short: "Submit a new analysis task for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer o.Close()

		model, _ := cmd.Flags().GetString("model")
		taskID, err := o.CreateTask(args[0], types.Config{Model: model})
		if err != nil {
			return err
		}
		fmt.Printf("task submitted: %s\n", taskID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status TASK_ID",
	Short: "Show a task's detail and derived progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer o.Close()

		detail, err := o.ReadTaskDetail(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("task:    %s\n", detail.Task.ID)
		fmt.Printf("status:  %s\n", detail.Task.Status)
		fmt.Printf("step:    %s (%.0f%%)\n", detail.Progress.Step, detail.Progress.Percent)
		fmt.Printf("files:   %d/%d successful, %d failed\n", detail.Task.SuccessfulFiles, detail.Task.TotalFiles, detail.Task.FailedFiles)
		if detail.Task.ErrorMessage != "" {
			fmt.Printf("error:   %s\n", detail.Task.ErrorMessage)
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the admission queue snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer o.Close()

		snap, err := o.QueueSnapshot()
		if err != nil {
			return err
		}
		fmt.Printf("running:        %d\n", snap.RunningCount)
		fmt.Printf("pending:        %d\n", len(snap.PendingTaskIDs))
		fmt.Printf("estimated wait: %.1f min\n", snap.EstimatedWaitMin)
		for i, id := range snap.PendingTaskIDs {
			fmt.Printf("  %d. %s\n", i+1, id)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show worker liveness and queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		defer o.Close()

		snap, err := o.Health()
		if err != nil {
			return err
		}
		fmt.Printf("queue depth:  %d\n", snap.QueueDepth)
		fmt.Printf("running:      %d\n", snap.RunningCount)
		for _, w := range snap.Workers {
			status := "healthy"
			if !w.Healthy {
				status = "unhealthy"
			}
			fmt.Printf("  task %s: %s (heartbeat age %s)\n", w.TaskID, status, w.HeartbeatAge)
		}
		if len(snap.OrphanTasks) > 0 {
			fmt.Printf("orphan candidates: %v\n", snap.OrphanTasks)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")
	submitCmd.Flags().String("model", "", "LLM model override for this task")
}
