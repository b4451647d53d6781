// Package config loads the writer configuration.
//
// Sources, lowest priority first: built-in defaults, a YAML or JSON file
// (native layout or a Keboola config.json with a "parameters" block), a .env
// file, and CRMW_* environment variables.
package config

import (
	"time"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/ingest"
)

// Config holds all writer configuration.
type Config struct {
	// Operation is an {object}_{action} name or a legacy endpoint name.
	Operation string `yaml:"operation" env:"CRMW_OPERATION"`
	// PreferEmail makes list membership use the email over the vid when both are set.
	PreferEmail bool `yaml:"prefer_email" env:"CRMW_PREFER_EMAIL"`

	API     APIConfig     `yaml:"api"`
	Batch   BatchConfig   `yaml:"batch"`
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig holds the remote API settings.
type APIConfig struct {
	BaseURL  string `yaml:"base_url" env:"CRMW_BASE_URL"`
	AuthMode string `yaml:"auth_mode" env:"CRMW_AUTH_MODE"`
	Token    string `yaml:"token"`

	TimeoutSeconds int `yaml:"timeout_seconds" env:"CRMW_TIMEOUT_SECONDS"`
	MaxRetries     int `yaml:"max_retries" env:"CRMW_MAX_RETRIES"`
	BackoffMs      int `yaml:"backoff_ms"`
	BackoffMaxMs   int `yaml:"backoff_max_ms"`
}

// BatchConfig holds chunking and pacing of batch endpoints.
type BatchConfig struct {
	Size          int `yaml:"size" env:"CRMW_BATCH_SIZE"`
	PacingMs      int `yaml:"pacing_ms"`
	ProgressEvery int `yaml:"progress_every"`
}

// InputConfig locates the input tables.
type InputConfig struct {
	TablesDir string `yaml:"tables_dir" env:"CRMW_TABLES_DIR"`
	// Tables are file names relative to TablesDir; empty means every *.csv.
	Tables    []string `yaml:"tables"`
	Encoding  string   `yaml:"encoding"`
	Delimiter string   `yaml:"delimiter"`
}

// OutputConfig selects where error records go.
type OutputConfig struct {
	ErrorsPath    string `yaml:"errors_path" env:"CRMW_ERRORS_PATH"`
	PostgresURL   string `yaml:"postgres_url" env:"CRMW_POSTGRES_URL"`
	PostgresTable string `yaml:"postgres_table"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CRMW_LOG_LEVEL"`
	Format string `yaml:"format" env:"CRMW_LOG_FORMAT"`
}

// MetricsConfig holds the optional Prometheus textfile path.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"CRMW_METRICS_TEXTFILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	api := client.DefaultConfig()
	policy := ingest.DefaultBatchPolicy()
	return &Config{
		API: APIConfig{
			BaseURL:        api.BaseURL,
			AuthMode:       string(api.AuthMode),
			TimeoutSeconds: api.TimeoutSeconds,
			MaxRetries:     api.MaxRetries,
			BackoffMs:      api.BackoffMs,
			BackoffMaxMs:   api.BackoffMaxMs,
		},
		Batch: BatchConfig{
			Size:          policy.Size,
			PacingMs:      int(policy.Pacing / time.Millisecond),
			ProgressEvery: policy.ProgressEvery,
		},
		Input: InputConfig{
			TablesDir: "in/tables",
			Encoding:  "utf-8",
			Delimiter: ",",
		},
		Output: OutputConfig{
			ErrorsPath: "out/tables/errors.csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Client returns the dispatcher configuration. AuthMode must have been validated.
func (c *Config) Client() client.Config {
	mode, _ := client.ParseAuthMode(c.API.AuthMode)
	return client.Config{
		BaseURL:        c.API.BaseURL,
		AuthMode:       mode,
		Token:          c.API.Token,
		TimeoutSeconds: c.API.TimeoutSeconds,
		MaxRetries:     c.API.MaxRetries,
		BackoffMs:      c.API.BackoffMs,
		BackoffMaxMs:   c.API.BackoffMaxMs,
	}
}

// BatchPolicy returns the normalized batching policy.
func (c *Config) BatchPolicy() ingest.BatchPolicy {
	return ingest.BatchPolicy{
		Size:          c.Batch.Size,
		Pacing:        time.Duration(c.Batch.PacingMs) * time.Millisecond,
		ProgressEvery: c.Batch.ProgressEvery,
	}.Normalize()
}

// CSVOptions returns the input table layout.
func (c *Config) CSVOptions() ingest.CSVOptions {
	return ingest.CSVOptions{Encoding: c.Input.Encoding, Delimiter: c.Input.Delimiter}
}
