package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	StationID    string `yaml:"station_id"`
	DatabasePath string `yaml:"database_path"`

	Server    ServerConfig    `yaml:"server"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Sync      SyncConfig      `yaml:"sync"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig locates the station server.
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WebSocketURL   string        `yaml:"websocket_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RealtimeConfig tunes the push channel.
type RealtimeConfig struct {
	ClientType        string        `yaml:"client_type"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxMissedAcks     int           `yaml:"max_missed_acks"`
	Topics            []string      `yaml:"topics"`
}

// SyncConfig tunes the queue store.
type SyncConfig struct {
	SuppressionWindow time.Duration `yaml:"suppression_window"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the messaging backend used for exit pass printing.
type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	PrintTopic          string        `yaml:"print_topic"`
	StatusTopic         string        `yaml:"status_topic"`
	StatusInterval      time.Duration `yaml:"status_interval"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	MaxRetries          int           `yaml:"max_retries"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// RedisConfig defines the optional queue mirror.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		StationID:    "station-1",
		DatabasePath: "stationedge.db",
		Server: ServerConfig{
			BaseURL:        "http://localhost:3000",
			WebSocketURL:   "ws://localhost:3000/ws",
			RequestTimeout: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			ClientType:        "desktop",
			ReconnectBase:     3 * time.Second,
			ReconnectMax:      30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			MaxMissedAcks:     3,
		},
		Sync: SyncConfig{
			SuppressionWindow: 4 * time.Second,
			PollInterval:      30 * time.Second,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8085,
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			PrintTopic:          "stationedge/print",
			StatusTopic:         "stationedge/status",
			StatusInterval:      60 * time.Second,
			OutboxDrainInterval: 5 * time.Second,
			MaxRetries:          10,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "stationedge",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies .env and
// STATIONEDGE_* environment overrides. A missing file means defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	// A missing .env is normal.
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
