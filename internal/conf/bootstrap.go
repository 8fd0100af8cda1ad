// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment
// variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed with
// RXGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or RXGATE_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with RXGATE_ prefix
	v.SetEnvPrefix("RXGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "RXGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "RXGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("classifier.endpoint", "CLASSIFIER_ENDPOINT", "RXGATE_CLASSIFIER_ENDPOINT")
	_ = v.BindEnv("security.state_encryption_key", "STATE_ENCRYPTION_KEY", "RXGATE_SECURITY_STATE_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Safety: &Safety{
			ConfidenceThreshold: v.GetFloat64("safety.confidence_threshold"),
			EscalateScheduleIV:  v.GetBool("safety.escalate_schedule_iv"),
			Breaker: &Safety_Breaker{
				FailureThreshold: v.GetInt("safety.breaker.failure_threshold"),
				CallTimeout:      durationpb.New(v.GetDuration("safety.breaker.call_timeout")),
				RecoveryTimeout:  durationpb.New(v.GetDuration("safety.breaker.recovery_timeout")),
			},
		},
		Classifier: &Classifier{
			Endpoint: v.GetString("classifier.endpoint"),
			Timeout:  durationpb.New(v.GetDuration("classifier.timeout")),
		},
		Security: &Security{
			StateEncryptionKey: v.GetString("security.state_encryption_key"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Safety defaults: reject below 0.70 intent confidence, trip a
	// dependency breaker after 5 failures, surface Schedule IV without
	// escalation.
	v.SetDefault("safety.confidence_threshold", 0.70)
	v.SetDefault("safety.escalate_schedule_iv", false)
	v.SetDefault("safety.breaker.failure_threshold", 5)
	v.SetDefault("safety.breaker.call_timeout", 3*time.Second)
	v.SetDefault("safety.breaker.recovery_timeout", 30*time.Second)

	// Classifier defaults
	v.SetDefault("classifier.timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and
// valid. It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Classifier == nil || bc.Classifier.Endpoint == "" {
		missingFields = append(missingFields, "classifier.endpoint (CLASSIFIER_ENDPOINT)")
	}

	if bc.Safety != nil && (bc.Safety.ConfidenceThreshold < 0 || bc.Safety.ConfidenceThreshold > 1) {
		missingFields = append(missingFields, "safety.confidence_threshold (must be within [0,1])")
	}

	if bc.Security != nil && bc.Security.StateEncryptionKey != "" && len(bc.Security.StateEncryptionKey) != 32 {
		missingFields = append(missingFields, "security.state_encryption_key (must be exactly 32 bytes)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
