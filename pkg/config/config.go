package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"

	"github.com/sentinel/securitygate/pkg/logger"
)

type (
	// Config provides a general structure to capture the config options
	// for the gate and its relays.
	Config struct {
		Logger   Logger   `toml:"logger"`
		Broker   Broker   `toml:"broker"`
		Workflow Workflow `toml:"workflow"`
		Tracking Tracking `toml:"tracking"`
		Notifier Notifier `toml:"notifier"`
		Ingest   Ingest   `toml:"ingest"`
	}

	// Logger provides general logging config
	Logger struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	}

	// Broker configures the RabbitMQ connection and topology
	Broker struct {
		Host               string      `toml:"host"`
		Port               int         `toml:"port"`
		Username           string      `toml:"username"`
		Password           string      `toml:"password"`
		VirtualHost        string      `toml:"virtual_host"`
		RequestExchange    string      `toml:"request_exchange"`
		ResultExchange     string      `toml:"result_exchange"`
		RequestQueue       string      `toml:"request_queue"`
		ResultQueue        string      `toml:"result_queue"`
		DeadLetterExchange string      `toml:"dead_letter_exchange"`
		Prefetch           int         `toml:"prefetch"`
		Workers            int         `toml:"workers"`
		MaxRedeliveries    int         `toml:"max_redeliveries"`
		ConnectAttempts    uint        `toml:"connect_attempts"`
		RoutingKeys        RoutingKeys `toml:"routing_keys"`
	}

	// RoutingKeys overrides the routing keys of the well known scan types
	RoutingKeys struct {
		SAST    string `toml:"sast"`
		DAST    string `toml:"dast"`
		Ports   string `toml:"ports"`
		Secrets string `toml:"secrets"`
	}

	// Workflow configures the external workflow engine
	Workflow struct {
		BaseURL string `toml:"base_url"`
	}

	// Tracking configures the status tracking endpoint. The endpoint is a
	// template where {scanId} is replaced with the scan id.
	Tracking struct {
		BaseURL              string `toml:"base_url"`
		UpdateStatusEndpoint string `toml:"update_status_endpoint"`
		TimeoutSeconds       int    `toml:"timeout_seconds"`
	}

	// Notifier configures the downstream result webhook
	Notifier struct {
		WebhookURL     string            `toml:"webhook_url"`
		AuthToken      string            `toml:"auth_token"`
		TimeoutSeconds int               `toml:"timeout_seconds"`
		Headers        map[string]string `toml:"headers"`
	}

	// Ingest configures the HTTP API and the result file ingestion
	Ingest struct {
		ListenAddress     string `toml:"listen_address"`
		ResultsBasePath   string `toml:"results_base_path"`
		MaxBodyBytes      int64  `toml:"max_body_bytes"`
		ShutdownTimeout   int    `toml:"shutdown_timeout"`
		ReadHeaderTimeout int    `toml:"read_header_timeout"`
	}
)

var localConfigDir = filepath.Join(xdg.ConfigHome, "securitygate")

func defaultBrokerPassword() string {
	if password := os.Getenv("SECURITYGATE_BROKER_PASSWORD"); len(password) > 0 {
		return password
	}

	passwordFilePath := filepath.Clean(filepath.Join(localConfigDir, "broker-password"))

	if _, err := os.Stat(passwordFilePath); err == nil {
		passwordBytes, err := os.ReadFile(passwordFilePath)

		if err != nil {
			logger.Fatal("from defaultBrokerPassword: %v", err)
		}

		return strings.TrimSpace(string(passwordBytes))
	}

	return "guest"
}

func defaultNotifierAuthToken() string {
	return os.Getenv("SECURITYGATE_NOTIFIER_TOKEN")
}

func defaultWorkflowBaseURL() string {
	if baseURL := os.Getenv("SECURITYGATE_WORKFLOW_URL"); len(baseURL) > 0 {
		return baseURL
	}

	return "http://localhost:5678"
}

// DefaultConfig provides a fully usable instance of Config with default
// values provided
func DefaultConfig() *Config {
	return &Config{
		Logger: Logger{
			Level:  "INFO",
			Format: "HUMAN",
		},
		Broker: Broker{
			Host:            "localhost",
			Port:            5672,
			Username:        "guest",
			Password:        defaultBrokerPassword(),
			VirtualHost:     "/",
			RequestExchange: "sentinel.scan.requests",
			ResultExchange:  "sentinel.scan.results",
			RequestQueue:    "sentinel.scan.requests.queue",
			ResultQueue:     "sentinel.scan.results.queue",
			Prefetch:        1,
			Workers:         1,
			MaxRedeliveries: 5,
			ConnectAttempts: 10,
			RoutingKeys: RoutingKeys{
				SAST:    "scan.sast",
				DAST:    "scan.dast",
				Ports:   "scan.ports",
				Secrets: "scan.secrets",
			},
		},
		Workflow: Workflow{
			BaseURL: defaultWorkflowBaseURL(),
		},
		Tracking: Tracking{
			BaseURL:              "http://localhost:8081",
			UpdateStatusEndpoint: "/api/scans/internal/{scanId}/status",
			TimeoutSeconds:       10,
		},
		Notifier: Notifier{
			AuthToken:      defaultNotifierAuthToken(),
			TimeoutSeconds: 30,
		},
		Ingest: Ingest{
			ListenAddress:     ":8080",
			ResultsBasePath:   "/mnt/semgrep/results",
			MaxBodyBytes:      1 << 20,
			ShutdownTimeout:   10,
			ReadHeaderTimeout: 10,
		},
	}
}

// LoadConfigFromFile provides a config object with default values set plus any
// custom values pulled in from the config file
func LoadConfigFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	_, err := toml.DecodeFile(filepath.Clean(path), config)

	if err != nil {
		return nil, err
	}

	return config, ApplyLogger(config.Logger)
}

// ApplyLogger pushes the logger settings into the logger package
func ApplyLogger(cfg Logger) error {
	if err := logger.SetLoggerLevel(cfg.Level); err != nil {
		return err
	}

	format, err := logger.ParseLogFormat(cfg.Format)
	if err != nil {
		return err
	}

	return logger.SetLoggerFormat(format)
}

// LocateAndLoadConfig looks through the possible places for the config
// favoring the provided path if it is set
func LocateAndLoadConfig(path string) (*Config, error) {
	if len(path) > 0 {
		return LoadConfigFromFile(path)
	}

	if path = os.Getenv("SECURITYGATE_CONFIG"); len(path) > 0 {
		return LoadConfigFromFile(path)
	}

	path = filepath.Join(localConfigDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return LoadConfigFromFile(path)
	}

	path = "/etc/securitygate/config.toml"
	if _, err := os.Stat(path); err == nil {
		return LoadConfigFromFile(path)
	}

	return DefaultConfig(), nil
}
