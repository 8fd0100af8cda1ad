package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBootstrap_Defaults(t *testing.T) {
	// Create a minimal valid config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :8080
data:
  database:
    driver: mysql
  redis:
    addr: 127.0.0.1:6379
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set required environment variables
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/ehr")
	t.Setenv("CLASSIFIER_ENDPOINT", "http://classifier.local:9100")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout.AsDuration())

	// Verify data defaults
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/ehr", bc.Data.Database.Source)

	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "tcp", bc.Data.Redis.Network)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.WriteTimeout.AsDuration())

	// Verify safety policy defaults
	assert.InDelta(t, 0.70, bc.Safety.ConfidenceThreshold, 1e-9)
	assert.False(t, bc.Safety.EscalateScheduleIV)
	assert.Equal(t, 5, bc.Safety.Breaker.FailureThreshold)
	assert.Equal(t, 3*time.Second, bc.Safety.Breaker.CallTimeout.AsDuration())
	assert.Equal(t, 30*time.Second, bc.Safety.Breaker.RecoveryTimeout.AsDuration())

	// Verify classifier value from environment
	assert.Equal(t, "http://classifier.local:9100", bc.Classifier.Endpoint)
	assert.Equal(t, 10*time.Second, bc.Classifier.Timeout.AsDuration())

	// Verify log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectedVal func(*Bootstrap) bool
		description string
	}{
		{
			name: "override_http_addr",
			envVars: map[string]string{
				"RXGATE_SERVER_HTTP_ADDR": ":9999",
				"MYSQL_DSN":               "user:pass@tcp(localhost:3306)/ehr",
				"CLASSIFIER_ENDPOINT":     "http://classifier.local:9100",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Server.Http.Addr == ":9999"
			},
			description: "RXGATE_SERVER_HTTP_ADDR should override default :8080",
		},
		{
			name: "override_redis_addr",
			envVars: map[string]string{
				"RXGATE_DATA_REDIS_ADDR": "redis.example.com:6379",
				"MYSQL_DSN":              "user:pass@tcp(localhost:3306)/ehr",
				"CLASSIFIER_ENDPOINT":    "http://classifier.local:9100",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
			description: "RXGATE_DATA_REDIS_ADDR should override default",
		},
		{
			name: "override_schedule_iv_policy",
			envVars: map[string]string{
				"RXGATE_SAFETY_ESCALATE_SCHEDULE_IV": "true",
				"MYSQL_DSN":                          "user:pass@tcp(localhost:3306)/ehr",
				"CLASSIFIER_ENDPOINT":                "http://classifier.local:9100",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Safety.EscalateScheduleIV
			},
			description: "RXGATE_SAFETY_ESCALATE_SCHEDULE_IV should override default false",
		},
		{
			name: "override_log_level",
			envVars: map[string]string{
				"RXGATE_LOG_LEVEL":    "debug",
				"MYSQL_DSN":           "user:pass@tcp(localhost:3306)/ehr",
				"CLASSIFIER_ENDPOINT": "http://classifier.local:9100",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Log.Level == "debug"
			},
			description: "RXGATE_LOG_LEVEL should override default info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			configContent := `server:
  http:
    addr: :8080
data:
  redis:
    addr: 127.0.0.1:6379
`
			err := os.WriteFile(configPath, []byte(configContent), 0644)
			require.NoError(t, err)

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap(configPath)
			require.NoError(t, err, tt.description)
			require.NotNil(t, bc)

			assert.True(t, tt.expectedVal(bc), tt.description)
		})
	}
}

func TestNewBootstrap_MissingRequired(t *testing.T) {
	tests := []struct {
		name          string
		envVars       map[string]string
		expectedError string
	}{
		{
			name: "missing_mysql_dsn",
			envVars: map[string]string{
				"CLASSIFIER_ENDPOINT": "http://classifier.local:9100",
			},
			expectedError: "data.database.source (MYSQL_DSN)",
		},
		{
			name: "missing_classifier_endpoint",
			envVars: map[string]string{
				"MYSQL_DSN": "user:pass@tcp(localhost:3306)/ehr",
			},
			expectedError: "classifier.endpoint (CLASSIFIER_ENDPOINT)",
		},
		{
			name:          "missing_all_required",
			envVars:       map[string]string{},
			expectedError: "missing required configuration fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			configContent := `server:
  http:
    addr: :8080
`
			err := os.WriteFile(configPath, []byte(configContent), 0644)
			require.NoError(t, err)

			// Clear all relevant environment variables first to ensure isolation
			os.Unsetenv("MYSQL_DSN")
			os.Unsetenv("RXGATE_DATA_DATABASE_SOURCE")
			os.Unsetenv("CLASSIFIER_ENDPOINT")
			os.Unsetenv("RXGATE_CLASSIFIER_ENDPOINT")

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap(configPath)
			assert.Error(t, err, "Expected error for missing required fields")
			assert.Nil(t, bc, "Bootstrap should be nil when validation fails")
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestNewBootstrap_ConfigFileNotFound(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/ehr")
	t.Setenv("CLASSIFIER_ENDPOINT", "http://classifier.local:9100")

	bc, err := NewBootstrap("/non/existent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewBootstrap_EmptyConfigPath(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/ehr")
	t.Setenv("CLASSIFIER_ENDPOINT", "http://classifier.local:9100")

	// Load with empty config path (should use defaults + env vars)
	bc, err := NewBootstrap("")
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/ehr", bc.Data.Database.Source)
	assert.Equal(t, "http://classifier.local:9100", bc.Classifier.Endpoint)
}

func TestNewBootstrap_PriorityOrder(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :7777
data:
  redis:
    addr: 127.0.0.1:6379
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Environment variable should override file value
	t.Setenv("RXGATE_SERVER_HTTP_ADDR", ":8888")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/ehr")
	t.Setenv("CLASSIFIER_ENDPOINT", "http://classifier.local:9100")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8888", bc.Server.Http.Addr, "Environment variable should override config file")
}

func TestValidate_AllFieldsPresent(t *testing.T) {
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{Addr: ":8080"},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: "mysql",
				Source: "user:pass@tcp(localhost:3306)/ehr",
			},
			Redis: &Data_Redis{Addr: "127.0.0.1:6379"},
		},
		Safety: &Safety{
			ConfidenceThreshold: 0.70,
			Breaker:             &Safety_Breaker{FailureThreshold: 5},
		},
		Classifier: &Classifier{Endpoint: "http://classifier.local:9100"},
		Log: &Log{
			Level:  "info",
			Format: "json",
		},
	}

	err := Validate(bc)
	assert.NoError(t, err)
}

func TestValidate_ConfidenceOutOfRange(t *testing.T) {
	bc := &Bootstrap{
		Data: &Data{
			Database: &Data_Database{Source: "user:pass@tcp(localhost:3306)/ehr"},
		},
		Classifier: &Classifier{Endpoint: "http://classifier.local:9100"},
		Safety:     &Safety{ConfidenceThreshold: 1.5},
	}

	err := Validate(bc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "safety.confidence_threshold")
}

func TestValidate_NilBootstrap(t *testing.T) {
	err := Validate(&Bootstrap{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing required configuration fields")
}
