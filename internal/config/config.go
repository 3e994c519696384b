package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings. Precedence: file > environment >
// defaults, with environment variables under the SOUNDSCAPE_ prefix
// (SOUNDSCAPE_HTTP_PORT, SOUNDSCAPE_AI_REQUEST_TIMEOUT, ...).
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AI        AIConfig        `mapstructure:"ai"`
	Session   SessionConfig   `mapstructure:"session"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AIConfig points at the external collaborators: the analysis service
// (emotion classification and music synthesis) and the generation service
// (chat completion and speech synthesis).
type AIConfig struct {
	AnalysisBaseURL   string        `mapstructure:"analysis_base_url"`
	GenerationBaseURL string        `mapstructure:"generation_base_url"`
	APIKey            string        `mapstructure:"api_key"`
	ChatModel         string        `mapstructure:"chat_model"`
	SpeechModel       string        `mapstructure:"speech_model"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 5*time.Second)
	v.SetDefault("websocket.send_buffer", 100)

	v.SetDefault("database.path", "./soundscape.db")

	v.SetDefault("ai.analysis_base_url", "http://localhost:8000")
	v.SetDefault("ai.generation_base_url", "https://api.openai.com")
	// Registered even though empty: viper only consults the environment
	// during Unmarshal for keys it already knows about.
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.chat_model", "gpt-4-turbo-preview")
	v.SetDefault("ai.speech_model", "tts-1")
	v.SetDefault("ai.request_timeout", 30*time.Second)

	v.SetDefault("session.idle_ttl", 2*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
}

// Load reads configuration from defaults, environment, and the optional
// file named by SOUNDSCAPE_CONFIG_FILE.
func Load() (*Config, error) {
	return load(os.Getenv("SOUNDSCAPE_CONFIG_FILE"))
}

func load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SOUNDSCAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The file is read into its own viper and applied as explicit
	// overrides: viper ranks environment above config files, and here the
	// file has to beat the environment.
	if configFile != "" {
		fv := viper.New()
		fv.SetConfigFile(configFile)
		if err := fv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		for _, key := range fv.AllKeys() {
			v.Set(key, fv.Get(key))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.AI.AnalysisBaseURL == "" || c.AI.GenerationBaseURL == "" {
		return fmt.Errorf("ai service base URLs cannot be empty")
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai request timeout must be positive")
	}
	if c.Session.IdleTTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session idle TTL and sweep interval must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
