// Package internal provides the application configuration and runtime wiring.
package internal

import (
	"fmt"
	"log/slog"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/embedding"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Roam      RoamConfig        `yaml:"roam"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Vector    VectorConfig      `yaml:"vector"`
	Sync      SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Roam.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the optional HTTP status API configuration. Port 0
// disables the listener.
type HTTPConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

// Address returns the HTTP listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the HTTP status API should be started.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// RoamConfig holds the remote graph credentials. Both fields are required
// before any remote call; a missing value fails validation rather than the
// first request.
type RoamConfig struct {
	Token   string `yaml:"token"`
	Graph   string `yaml:"graph"`
	BaseURL string `yaml:"base_url"`
}

// Validate validates the Roam configuration.
func (c *RoamConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required.Error("token is required (set ROAM_API_TOKEN)")),
		validation.Field(&c.Graph, validation.Required.Error("graph is required (set ROAM_GRAPH_NAME)")),
	)
}

// EmbeddingConfig holds the embedding inference endpoint configuration.
type EmbeddingConfig struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.BatchSize, validation.Min(1)),
	)
}

// VectorConfig holds the vector store location override. Empty means the
// per-user default path for the graph.
type VectorConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig controls index synchronization behavior.
type SyncConfig struct {
	// Schedule is an optional cron expression for periodic incremental sync.
	Schedule string `yaml:"schedule"`
	// OnStartup runs one incremental sync in the background at boot.
	OnStartup bool `yaml:"on_startup"`
	// BatchSize bounds how many blocks are embedded per round.
	BatchSize int `yaml:"batch_size"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BatchSize, validation.Min(1)),
	)
}

// NewDefaultConfig returns a Config with sensible defaults. Credentials
// default to the conventional environment variables so a config file is only
// needed to override behavior.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 0,
			},
		},
		Roam: RoamConfig{
			Token: os.Getenv("ROAM_API_TOKEN"),
			Graph: os.Getenv("ROAM_GRAPH_NAME"),
		},
		Embedding: EmbeddingConfig{
			URL:       embedding.DefaultBaseURL,
			Model:     embedding.DefaultModel,
			BatchSize: embedding.DefaultBatchSize,
		},
		Sync: SyncConfig{
			BatchSize: 64,
		},
	}
}
