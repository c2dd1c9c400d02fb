package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "queue service config",
			filePath: "testdata/queue_service.yaml",
		},
		{
			name:     "agent config",
			filePath: "testdata/agent.yaml",
		},
		{
			name:     "submitter config",
			filePath: "testdata/submitter.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
		})
	}
}

func TestLoad_QueueService(t *testing.T) {
	t.Setenv("TEST_QUEUE_API_TOKEN", "from-env")

	cfg, err := Load("testdata/queue_service.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.APIToken)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "print_queue", cfg.Database.Database)
	assert.True(t, cfg.RabbitMQ.Enabled)
	assert.Empty(t, cfg.RabbitMQ.Queue.Name)
	assert.Equal(t, 5*time.Minute, cfg.Queue.StuckThreshold)
	assert.Equal(t, 12*time.Hour, cfg.Queue.CleanupInterval)
	assert.Equal(t, 14, cfg.Queue.RetentionDays)

	require.NotNil(t, cfg.Company)
	assert.Equal(t, "Acme Ltd", cfg.Company.Name)
	assert.Equal(t, "123456789", cfg.Company.TaxID)

	require.NoError(t, cfg.ValidateQueueService())
}

func TestLoad_Agent(t *testing.T) {
	cfg, err := Load("testdata/agent.yaml")
	require.NoError(t, err)

	assert.Equal(t, "till-1", cfg.Agent.ID)
	assert.Equal(t, time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Agent.ErrorBackoff)
	assert.Equal(t, 90*time.Second, cfg.Agent.StuckThreshold)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, "COM3", cfg.Printer.SerialPort)
	assert.Equal(t, 2*time.Second, cfg.Printer.RetryDelay)
	assert.Equal(t, 3*time.Second, cfg.Printer.ZReportSettle)
	assert.Equal(t, []OperatorConfig{{Number: 1, Password: "0000"}, {Number: 2, Password: "1234"}}, cfg.Printer.Operators)
	assert.Nil(t, cfg.Company)

	require.NoError(t, cfg.ValidateAgent())
}

func TestLoad_Submitter(t *testing.T) {
	cfg, err := Load("testdata/submitter.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "topic", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, "pos.events.dlx", cfg.RabbitMQ.Queue.DeadLetterExchange)
	assert.Len(t, cfg.RabbitMQ.Queue.BindingKeys, 5)
	assert.Equal(t, 20, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, 8, cfg.Submitter.Concurrency)

	require.NoError(t, cfg.ValidateSubmitterService())
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "/", cfg.RabbitMQ.VHost)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, domain.DefaultStuckThreshold, cfg.Queue.StuckThreshold)
	assert.Equal(t, 30, cfg.Queue.RetentionDays)
	assert.Equal(t, domain.DefaultStuckThreshold/3, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 115200, cfg.Printer.BaudRate)
	assert.Equal(t, 4, cfg.Submitter.Concurrency)
}

func validQueueService() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, APIToken: "token"},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "print_queue",
		},
	}
}

func TestConfig_ValidateQueueService(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "missing api token",
			mutate:    func(c *Config) { c.Server.APIToken = "" },
			errString: "api_token is required",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unsupported database driver",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite3", Path: "queue.db"}
			},
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite3"} },
			errString: "database path is required",
		},
		{
			name:      "negative retention",
			mutate:    func(c *Config) { c.Queue.RetentionDays = -1 },
			errString: "retention_days must not be negative",
		},
		{
			name: "publisher without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Host: "localhost", Port: 5672}
			},
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "publisher needs no queue",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: true, Host: "localhost", Port: 5672, Exchange: ExchangeConfig{Name: "fiscal.events"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validQueueService()
			tt.mutate(cfg)

			err := cfg.ValidateQueueService()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateSubmitterService(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite3", Path: "queue.db"},
			RabbitMQ: RabbitMQConfig{
				Host:     "localhost",
				Port:     5672,
				Exchange: ExchangeConfig{Name: "pos.events"},
				Queue:    AMQPQueueConfig{Name: "fiscal.print-jobs"},
			},
			Submitter: SubmitterConfig{Concurrency: 2},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 0 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Submitter.Concurrency = 0 },
			errString: "concurrency must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateSubmitterService()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAgent(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Agent: AgentConfig{
				QueueURL:          "http://queue:8080",
				Token:             "token",
				HeartbeatInterval: time.Minute,
				StuckThreshold:    5 * time.Minute,
			},
			Printer: PrinterConfig{
				BridgeURL:  "http://127.0.0.1:4444",
				SerialPort: "COM1",
				Operators:  []OperatorConfig{{Number: 1, Password: "0000"}},
			},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:   "discovery instead of serial port",
			mutate: func(c *Config) { c.Printer.SerialPort = ""; c.Printer.Discover = true },
		},
		{
			name:      "missing queue url",
			mutate:    func(c *Config) { c.Agent.QueueURL = "" },
			errString: "queue_url is required",
		},
		{
			name:      "missing token",
			mutate:    func(c *Config) { c.Agent.Token = "" },
			errString: "agent token is required",
		},
		{
			name:      "heartbeat slower than stuck threshold",
			mutate:    func(c *Config) { c.Agent.HeartbeatInterval = 5 * time.Minute },
			errString: "must be shorter than stuck_threshold",
		},
		{
			name:      "no serial port and no discovery",
			mutate:    func(c *Config) { c.Printer.SerialPort = "" },
			errString: "serial_port is required",
		},
		{
			name:      "no operators",
			mutate:    func(c *Config) { c.Printer.Operators = nil },
			errString: "at least one printer operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAgent()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
