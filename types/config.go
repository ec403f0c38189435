package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage" validate:"required"`
	Loader      *LoaderConfig      `yaml:"loader" json:"loader" validate:"required"`
	Sandbox     *SandboxConfig     `yaml:"sandbox" json:"sandbox" validate:"required"`
	KV          *KVConfig          `yaml:"kv" json:"kv" validate:"required"`
	Cron        *CronConfig        `yaml:"cron" json:"cron" validate:"required"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics" validate:"required"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares" validate:"required"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
	MaxBodySize     int    `yaml:"max_body_size" json:"max_body_size" validate:"min=0"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

// StorageConfig selects the object store holding handler sources.
type StorageConfig struct {
	Type      string      `yaml:"type" json:"type" validate:"required"`
	Extension string      `yaml:"extension" json:"extension" validate:"required"`
	Config    interface{} `yaml:"config" json:"config"`
}

type LoaderConfig struct {
	TTL      time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
	Coalesce bool          `yaml:"coalesce" json:"coalesce"`
}

type SandboxConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" validate:"min=0"`
	MaxFetchBytes int           `yaml:"max_fetch_bytes" json:"max_fetch_bytes" validate:"min=0"`
	EnvAllowlist  []string      `yaml:"env_allowlist" json:"env_allowlist"`
}

type KVConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Timezone        string        `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" validate:"min=0"`
	JobTimeout      time.Duration `yaml:"job_timeout" json:"job_timeout" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Type      string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Path      string            `yaml:"path" json:"path"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
	GoMetrics bool              `yaml:"go_metrics" json:"go_metrics"`
}

type MiddlewaresConfig struct {
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery" validate:"required"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging" validate:"required"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression" validate:"required"`
	RequestID   *MiddlewareItemConfig `yaml:"request_id" json:"request_id" validate:"required"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}
