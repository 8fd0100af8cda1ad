// Package conf provides configuration management using Viper.
package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the RxGate service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Safety     *Safety
	Classifier *Classifier
	Security   *Security
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP listener configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data-layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the EHR/formulary MySQL configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds the conversation-store Redis configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Safety holds the clinical safety policy knobs.
type Safety struct {
	// ConfidenceThreshold is the minimum intent-classification confidence
	// below which a request is rejected.
	ConfidenceThreshold float64
	// EscalateScheduleIV controls whether Schedule IV controlled
	// substances escalate like Schedule II/III, or are surfaced as
	// informational findings only.
	EscalateScheduleIV bool
	// Breaker configures the per-dependency circuit breakers.
	Breaker *Safety_Breaker
}

// Safety_Breaker configures the guarded calls around external dependencies.
type Safety_Breaker struct {
	FailureThreshold int
	CallTimeout      *durationpb.Duration
	RecoveryTimeout  *durationpb.Duration
}

// Classifier holds the external intent/entity classifier configuration.
type Classifier struct {
	Endpoint string
	Timeout  *durationpb.Duration
}

// Security holds data-protection configuration.
type Security struct {
	// StateEncryptionKey is the 32-byte AES-256 key used to encrypt
	// escalation review packages at rest. Empty disables encryption
	// (development only).
	StateEncryptionKey string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
