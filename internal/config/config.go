package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config is shared by all binaries; each one reads only its own sections.
type Config struct {
	Server    ServerConfig                  `yaml:"server"`
	Database  DatabaseConfig                `yaml:"database"`
	RabbitMQ  RabbitMQConfig                `yaml:"rabbitmq"`
	Logging   LoggingConfig                 `yaml:"logging"`
	App       AppConfig                     `yaml:"app"`
	Queue     QueueConfig                   `yaml:"queue"`
	Company   *domain.CompanyHeaderSnapshot `yaml:"company"`
	Agent     AgentConfig                   `yaml:"agent"`
	Printer   PrinterConfig                 `yaml:"printer"`
	Submitter SubmitterConfig               `yaml:"submitter"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	APIToken        string        `yaml:"api_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects PostgreSQL or SQLite for the job store
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name               string   `yaml:"name"`
	Durable            bool     `yaml:"durable"`
	AutoDelete         bool     `yaml:"auto_delete"`
	Exclusive          bool     `yaml:"exclusive"`
	DeadLetterExchange string   `yaml:"dead_letter_exchange"`
	BindingKeys        []string `yaml:"binding_keys"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// QueueConfig holds job store housekeeping settings
type QueueConfig struct {
	StuckThreshold  time.Duration `yaml:"stuck_threshold"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RetentionDays   int           `yaml:"retention_days"`
}

// AgentConfig holds print agent polling settings
type AgentConfig struct {
	ID                string        `yaml:"id"`
	QueueURL          string        `yaml:"queue_url"`
	Token             string        `yaml:"token"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StuckThreshold    time.Duration `yaml:"stuck_threshold"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// OperatorConfig is one fiscal operator the agent may log in as
type OperatorConfig struct {
	Number   int    `yaml:"number"`
	Password string `yaml:"password"`
}

// PrinterConfig holds fiscal printer bridge settings
type PrinterConfig struct {
	BridgeURL      string           `yaml:"bridge_url"`
	SerialPort     string           `yaml:"serial_port"`
	BaudRate       int              `yaml:"baud_rate"`
	Discover       bool             `yaml:"discover"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	RetryDelay     time.Duration    `yaml:"retry_delay"`
	ZReportSettle  time.Duration    `yaml:"zreport_settle"`
	Operators      []OperatorConfig `yaml:"operators"`
}

// SubmitterConfig holds event consumer settings
type SubmitterConfig struct {
	Concurrency int    `yaml:"concurrency"`
	ConsumerTag string `yaml:"consumer_tag"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 10*time.Second)
	setDefault(&c.Server.WriteTimeout, 10*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 15*time.Second)

	setDefault(&c.Database.Driver, "postgres")
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.BusyTimeout, 5*time.Second)

	setDefault(&c.RabbitMQ.Port, 5672)
	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Type, "topic")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Consumer.PrefetchCount, 10)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.Queue.StuckThreshold, domain.DefaultStuckThreshold)
	setDefault(&c.Queue.CleanupInterval, 24*time.Hour)
	setDefault(&c.Queue.RetentionDays, 30)

	setDefault(&c.Agent.PollInterval, 2*time.Second)
	setDefault(&c.Agent.ErrorBackoff, 10*time.Second)
	setDefault(&c.Agent.StuckThreshold, domain.DefaultStuckThreshold)
	setDefault(&c.Agent.HeartbeatInterval, c.Agent.StuckThreshold/3)
	setDefault(&c.Agent.RequestTimeout, 10*time.Second)

	setDefault(&c.Printer.BridgeURL, "http://127.0.0.1:4444")
	setDefault(&c.Printer.BaudRate, 115200)
	setDefault(&c.Printer.RequestTimeout, 30*time.Second)
	setDefault(&c.Printer.RetryDelay, 5*time.Second)
	setDefault(&c.Printer.ZReportSettle, 3*time.Second)

	setDefault(&c.Submitter.Concurrency, 4)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// ValidateQueueService checks the settings used by the queue service
func (c *Config) ValidateQueueService() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if c.Server.APIToken == "" {
		return fmt.Errorf("server api_token is required")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Queue.RetentionDays < 0 {
		return fmt.Errorf("queue retention_days must not be negative")
	}

	if c.RabbitMQ.Enabled {
		return c.validateRabbitMQ(false)
	}

	return nil
}

// ValidateSubmitterService checks the settings used by the submitter
func (c *Config) ValidateSubmitterService() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(true); err != nil {
		return err
	}

	if c.Submitter.Concurrency <= 0 {
		return fmt.Errorf("submitter concurrency must be greater than 0")
	}

	return nil
}

// ValidateAgent checks the settings used by the print agent
func (c *Config) ValidateAgent() error {
	if c.Agent.QueueURL == "" {
		return fmt.Errorf("agent queue_url is required")
	}

	if c.Agent.Token == "" {
		return fmt.Errorf("agent token is required")
	}

	if c.Agent.HeartbeatInterval >= c.Agent.StuckThreshold {
		return fmt.Errorf("agent heartbeat_interval (%s) must be shorter than stuck_threshold (%s)",
			c.Agent.HeartbeatInterval, c.Agent.StuckThreshold)
	}

	if c.Printer.BridgeURL == "" {
		return fmt.Errorf("printer bridge_url is required")
	}

	if c.Printer.SerialPort == "" && !c.Printer.Discover {
		return fmt.Errorf("printer serial_port is required when discover is off")
	}

	if len(c.Printer.Operators) == 0 {
		return fmt.Errorf("at least one printer operator is required")
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ(consumer bool) error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if consumer && c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
