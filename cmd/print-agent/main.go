package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/fiscal-bridge/internal/agent"
	"github.com/cuongbtq/fiscal-bridge/internal/agent/executor"
	"github.com/cuongbtq/fiscal-bridge/internal/agent/queueclient"
	"github.com/cuongbtq/fiscal-bridge/internal/config"
	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/conn"
	"github.com/cuongbtq/fiscal-bridge/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("PRINT_AGENT_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/print-agent/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAgent(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
		TimeFormat:   cfg.Logging.TimeFormat,
		NoColor:      cfg.Logging.NoColor,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	agentID := cfg.Agent.ID
	if agentID == "" {
		agentID = defaultAgentID()
	}
	appLogger = appLogger.With(slog.String("agent_id", agentID))

	appLogger.Info("Starting print agent",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("queue_url", cfg.Agent.QueueURL),
	)

	device := conn.NewManager(conn.Config{
		BridgeURL:      cfg.Printer.BridgeURL,
		SerialPort:     cfg.Printer.SerialPort,
		BaudRate:       cfg.Printer.BaudRate,
		Discover:       cfg.Printer.Discover,
		RequestTimeout: cfg.Printer.RequestTimeout,
	}, appLogger.Component("printer"))

	queue := queueclient.New(queueclient.Config{
		BaseURL: cfg.Agent.QueueURL,
		Token:   cfg.Agent.Token,
		AgentID: agentID,
		Timeout: cfg.Agent.RequestTimeout,
	})

	operators := make([]executor.Operator, 0, len(cfg.Printer.Operators))
	for _, op := range cfg.Printer.Operators {
		operators = append(operators, executor.Operator{Number: op.Number, Password: op.Password})
	}

	exec := executor.New(executor.Config{
		Operators:     operators,
		RetryDelay:    cfg.Printer.RetryDelay,
		ZReportSettle: cfg.Printer.ZReportSettle,
	}, device, queue, appLogger.Component("executor"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = agent.New(agent.Config{
		AgentID:           agentID,
		PollInterval:      cfg.Agent.PollInterval,
		ErrorBackoff:      cfg.Agent.ErrorBackoff,
		StuckThreshold:    cfg.Agent.StuckThreshold,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval,
	}, queue, exec, appLogger.Component("agent")).Run(ctx)

	// Release the bridge so another client can take the port
	device.Drop(context.Background())

	if err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}

	appLogger.Info("Print agent shutdown complete")
	return nil
}

// defaultAgentID names the instance after the host with a random suffix
func defaultAgentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "print-agent"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
