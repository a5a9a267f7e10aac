package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	// EnvPrefix namespaces every environment variable (IDYLLE_PORT, IDYLLE_LOGGING_LEVEL, ...)
	EnvPrefix = "IDYLLE"

	// DefaultPort and DefaultHost are the listen address a fresh Settings starts with
	DefaultPort = 8080
	DefaultHost = "0.0.0.0"
)

// Settings is the live, mutable configuration record threaded through boot.
// Listeners registered for init.settings receive the same pointer the
// application later reads the listen address from.
type Settings struct {
	Port      int             `yaml:"port" envconfig:"PORT" validate:"gte=0,lte=65535"`
	Host      string          `yaml:"host" envconfig:"HOST"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`

	// Middlewares lists middleware names in the order the route binder applies them
	Middlewares []string `yaml:"middlewares" envconfig:"MIDDLEWARES"`

	// Extra holds free-form settings owned by application code
	Extra map[string]interface{} `yaml:"extra" ignored:"true"`

	mu sync.RWMutex
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"omitempty,oneof=stdout stderr file both discard"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string          `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	IPRateLimit    IPRateLimit       `yaml:"ip_rate_limit" envconfig:"IP_RATE_LIMIT"`
	// APIKeys maps accepted keys to client names for the api_key middleware
	APIKeys        map[string]string `yaml:"api_keys" envconfig:"API_KEYS"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// IPRateLimit limits requests per client address over a sliding window
type IPRateLimit struct {
	Requests int           `yaml:"requests" envconfig:"REQUESTS" validate:"gte=0"`
	Window   time.Duration `yaml:"window" envconfig:"WINDOW" validate:"gte=0"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
}

// CacheConfig selects and configures the default cache driver
type CacheConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER" validate:"omitempty,oneof=memory redis none"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL"`
	Redis           RedisConfig   `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
	Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
}

// Default returns a Settings record with every default applied
func Default() *Settings {
	return &Settings{
		Port: DefaultPort,
		Host: DefaultHost,
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/app.log",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     100,
				Burst:   50,
			},
			IPRateLimit: IPRateLimit{
				Requests: 600,
				Window:   time.Minute,
			},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			MaxMessageSize:  64 * 1024,
			PingPeriod:      54 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
		},
		Cache: CacheConfig{
			Driver:          "memory",
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "idylle:",
			},
		},
		Middlewares: []string{"request_id", "real_ip", "logger", "recoverer"},
		Extra:       make(map[string]interface{}),
	}
}

// Load returns defaults overlaid with the config file and the environment
func Load() (*Settings, error) {
	s := Default()
	if err := LoadInto(s); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadInto overlays the config file and then the environment onto s in place.
// Environment variables take precedence over the file; fields present in
// neither keep their current value.
func LoadInto(s *Settings) error {
	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, s); err != nil {
			return fmt.Errorf("failed to load config from file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, s); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := s.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// loadFromFile decodes a YAML file on top of s
func loadFromFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return yaml.Unmarshal(data, s)
}

var validate = validator.New()

// Validate checks struct constraints on the settings
func (s *Settings) Validate() error {
	return validate.Struct(s)
}

// Addr returns the host:port pair the transport listens on
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Set stores a free-form value. Safe for concurrent listeners.
func (s *Settings) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Extra == nil {
		s.Extra = make(map[string]interface{})
	}
	s.Extra[key] = value
}

// Value returns a free-form value previously stored with Set or loaded from the file
func (s *Settings) Value(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Extra[key]
	return v, ok
}

// configFilePath returns the config file to read, or "" when none exists
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}
