package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/config"
	"github.com/loopkit/quadra/internal/llm"
	"github.com/loopkit/quadra/internal/logging"
	"github.com/loopkit/quadra/internal/memstore"
	"github.com/loopkit/quadra/internal/orchestrator"
	"github.com/loopkit/quadra/internal/phases"
	"github.com/loopkit/quadra/internal/telemetry"
	"github.com/loopkit/quadra/internal/tools"
)

var (
	ttlFlag    int
	memoryFlag string
	prettyFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run one task through the orchestration cycle",
	Long: `Run a task through the profiling, refinement, execution, and adaptive
depth cycle and print the terminal result as JSON.

Examples:
  # Run a task
  quadrad run "summarize the quarterly report"

  # Read the task from stdin
  cat task.txt | quadrad run -

  # Override the cycle budget
  quadrad run --ttl 5 "compare the last two releases"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().IntVar(&ttlFlag, "ttl", 0, "cycle budget override")
	runCmd.Flags().StringVar(&memoryFlag, "memory", "", "memory backend override (memory|nats)")
	runCmd.Flags().BoolVar(&prettyFlag, "pretty", false, "indent the JSON result")
}

func runTask(cmd *cobra.Command, args []string) error {
	task, err := readTask(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ttlFlag > 0 {
		cfg.Kernel.TTL = ttlFlag
	}
	if memoryFlag != "" {
		cfg.Memory.Backend = memoryFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var metrics *telemetry.KernelMetrics
	if cfg.Observability.EnableTelemetry {
		telCfg := telemetry.NewDefaultConfig()
		telCfg.Enabled = true
		telCfg.ServiceName = cfg.Observability.ServiceName
		tel, err := telemetry.New(ctx, telCfg)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() { _ = tel.Shutdown(context.Background()) }()
		metrics, err = telemetry.NewKernelMetrics(tel.Meter("quadra.kernel"))
		if err != nil {
			return fmt.Errorf("initializing metrics: %w", err)
		}
	}

	memory, closeMemory, err := buildMemory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMemory()

	registry, closeTools, err := buildTools(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTools()

	reasoner, err := llm.New(llm.Config{
		BaseURL:     cfg.Reasoning.BaseURL,
		Model:       cfg.Reasoning.Model,
		APIKey:      cfg.Reasoning.APIKey.Value(),
		Temperature: cfg.Reasoning.Temperature,
	})
	if err != nil {
		return fmt.Errorf("initializing reasoner: %w", err)
	}

	deps := phases.Deps{
		Profiler:   collab.NewReasoningProfiler(reasoner),
		Planner:    collab.NewReasoningPlanner(reasoner),
		Evaluator:  collab.NewReasoningEvaluator(reasoner),
		Validator:  collab.NewReasoningValidator(reasoner),
		Judge:      collab.NewReasoningJudge(reasoner),
		Advisor:    collab.NewReasoningAdvisor(reasoner),
		Supervisor: collab.NewReasoningSupervisor(reasoner),
		Reasoner:   reasoner,
		Tools:      tools.WithTimeout(registry, cfg.Kernel.StepTimeout),
		Memory:     memory,
		Log:        logger,
		Metrics:    metrics,
	}

	kernel, err := orchestrator.New(orchestrator.Config{
		TTL:               cfg.Kernel.TTL,
		MaxRepairAttempts: cfg.Kernel.MaxRepairAttempts,
		MaxRefineRounds:   1,
	}, deps)
	if err != nil {
		return err
	}

	res, runErr := kernel.Run(ctx, task)
	if res != nil {
		if err := printResult(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	}
	return runErr
}

// buildLogger applies the logging section of the config to the default
// logger settings.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if cfg.Logging.Level != "" {
		level, err := logging.LevelFromString(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		logCfg.Level = level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	return logging.NewLogger(logCfg, nil)
}

// readTask takes the task from the argument, or from stdin when the
// argument is absent or "-".
func readTask(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	buf, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading task from stdin: %w", err)
	}
	task := strings.TrimSpace(string(buf))
	if task == "" {
		return "", fmt.Errorf("task is required (argument or stdin)")
	}
	return task, nil
}

// buildMemory selects the memory backend from config.
func buildMemory(ctx context.Context, cfg *config.Config, logger *logging.Logger) (collab.Memory, func(), error) {
	switch cfg.Memory.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Memory.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		store, err := memstore.NewNATSStore(ctx, nc, cfg.Memory.Bucket)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("opening memory bucket: %w", err)
		}
		logger.Info(ctx, "memory backend ready",
			zap.String("backend", "nats"),
			zap.String("bucket", cfg.Memory.Bucket))
		return store, nc.Close, nil
	default:
		return memstore.NewInMemory(), func() {}, nil
	}
}

// buildTools connects the MCP tool server when one is configured;
// otherwise the inventory is empty and every step executes as reasoning.
func buildTools(ctx context.Context, cfg *config.Config, logger *logging.Logger) (collab.ToolRegistry, func(), error) {
	if cfg.Tools.MCPCommand == "" {
		return tools.NewStaticRegistry(), func() {}, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "quadrad", Version: version}, nil)
	transport := &mcp.CommandTransport{
		Command: exec.CommandContext(ctx, cfg.Tools.MCPCommand, cfg.Tools.MCPArgs...),
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MCP server %q: %w", cfg.Tools.MCPCommand, err)
	}
	registry, err := tools.NewMCPRegistry(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("listing MCP tools: %w", err)
	}
	logger.Info(ctx, "mcp tool inventory ready",
		zap.String("command", cfg.Tools.MCPCommand),
		zap.Int("tools", len(registry.List())))
	return registry, func() { _ = session.Close() }, nil
}

func printResult(w io.Writer, res *orchestrator.Result) error {
	enc := json.NewEncoder(w)
	if prettyFlag {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
