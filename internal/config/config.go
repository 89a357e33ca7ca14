package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Gemini      GeminiConfig              `json:"gemini"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	ServiceAPIKey     string `json:"service_api_key"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

// GeminiConfig is the credential and call-shaping surface of the
// orchestration layer. ProjectID and Location are recorded for deployment
// bookkeeping; the call path itself only needs the key and model.
type GeminiConfig struct {
	APIKey                     string `json:"api_key"`
	ProjectID                  string `json:"project_id"`
	Location                   string `json:"location"`
	Model                      string `json:"model"`
	MaxHistoryMessages         int    `json:"max_history_messages"`
	UseHistoryByDefault        bool   `json:"use_history_by_default"`
	ConversationTimeoutMinutes int    `json:"conversation_timeout_minutes"`
	// AppendHistoryAfterSuccess records the user turn only once the call
	// succeeded, instead of before sending.
	AppendHistoryAfterSuccess bool `json:"append_history_after_success"`
}

// ConversationTimeout returns the session staleness window.
func (g GeminiConfig) ConversationTimeout() time.Duration {
	minutes := g.ConversationTimeoutMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini api_key must be configured")
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.MaxHistoryMessages <= 0 {
		cfg.Gemini.MaxHistoryMessages = 10
	}

	// Relative sqlite paths resolve against the config file location.
	for name, db := range cfg.Databases {
		if name != "sqlite" && name != "sqlite3" {
			continue
		}
		if db.DSN != "" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}
