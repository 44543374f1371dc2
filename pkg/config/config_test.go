package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialLoadConfigFromFile(t *testing.T) {
	os.Unsetenv("SECURITYGATE_WORKFLOW_URL")
	cfg, err := LoadConfigFromFile("../../testdata/partial-config.toml")

	if err != nil {
		// If there are config issues fail fast
		assert.FailNowf(t, "Failed to load config file", "Load returned an error %s", err)
	}

	// Check values
	tests := []struct {
		expected any
		actual   any
	}{
		{
			expected: "rabbitmq.internal",
			actual:   cfg.Broker.Host,
		},
		{
			expected: 5672,
			actual:   cfg.Broker.Port,
		},
		{
			expected: 3,
			actual:   cfg.Broker.MaxRedeliveries,
		},
		{
			expected: "scan.web",
			actual:   cfg.Broker.RoutingKeys.DAST,
		},
		{
			expected: "scan.sast",
			actual:   cfg.Broker.RoutingKeys.SAST,
		},
		{
			expected: "http://n8n.internal:5678",
			actual:   cfg.Workflow.BaseURL,
		},
		{
			expected: "/tmp/semgrep/results",
			actual:   cfg.Ingest.ResultsBasePath,
		},
		{
			expected: "INFO",
			actual:   cfg.Logger.Level,
		},
		{
			expected: "sentinel.scan.results.queue",
			actual:   cfg.Broker.ResultQueue,
		},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.actual)
	}
}

func TestLocateAndLoadConfig(t *testing.T) {
	// Set the env var here to prove the provided path overrides it
	localConfigDir = "../../testdata/locator-test/securitygate"
	os.Setenv("SECURITYGATE_CONFIG", "../../testdata/locator-test/securitygate/config.2.toml")

	// Confirm load from file works
	cfg, err := LocateAndLoadConfig("../../testdata/locator-test/securitygate/config.1.toml")
	assert.Nil(t, err)
	assert.Equal(t, "http://test-1", cfg.Workflow.BaseURL)

	// Confirm load from the SECURITYGATE_CONFIG env var works
	cfg, err = LocateAndLoadConfig("")
	assert.Nil(t, err)
	assert.Equal(t, "http://test-2", cfg.Workflow.BaseURL)

	// Confirm load from the local config dir works
	os.Unsetenv("SECURITYGATE_CONFIG")
	cfg, err = LocateAndLoadConfig("")
	assert.Nil(t, err)
	assert.Equal(t, "http://test-3", cfg.Workflow.BaseURL)
}

func TestBrokerPasswordFromEnv(t *testing.T) {
	t.Setenv("SECURITYGATE_BROKER_PASSWORD", "s3cret")
	assert.Equal(t, "s3cret", DefaultConfig().Broker.Password)
}
