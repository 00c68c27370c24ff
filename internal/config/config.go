package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config структура конфигурации.
type Config struct {
	Logger      LogConf         `toml:"logger" yaml:"logger"`           // Logger - конфигурация регистратора.
	MQTT        MQTTConf        `toml:"mqtt" yaml:"mqtt"`               // MQTT - конфигурация MQTT клиента.
	Integration IntegrationConf `toml:"integration" yaml:"integration"` // Integration - HTTP API хаба.
	Cache       CacheConf       `toml:"cache" yaml:"cache"`             // Cache - кэш аксессуаров.
	Status      StatusConf      `toml:"status" yaml:"status"`           // Status - HTTP API состояния.
	MDNS        MDNSConf        `toml:"mdns" yaml:"mdns"`               // MDNS - поиск брокера и хаба в сети.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level" yaml:"log-level"` // Level - уровень логирования.
}

// MQTTConf describes the single broker connection.
type MQTTConf struct {
	ClientID      string `toml:"clientID" yaml:"clientID"`
	Schema        string `toml:"schema" yaml:"schema"`
	Host          string `toml:"server" yaml:"server"`
	Port          int    `toml:"port" yaml:"port"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	Qos           byte   `toml:"qos" yaml:"qos"`
	Resubscribe   bool   `toml:"resubscribe" yaml:"resubscribe"`
	PublishPolicy string `toml:"publish-policy" yaml:"publish-policy"` // queue | fail
	QueueSize     int    `toml:"queue-size" yaml:"queue-size"`
	FlushRate     int    `toml:"flush-rate" yaml:"flush-rate"`         // messages per second, 0 = no pacing
	RetryInterval int    `toml:"retry-interval" yaml:"retry-interval"` // seconds
	KeepAlive     int    `toml:"keepalive" yaml:"keepalive"`           // seconds
}

// IntegrationConf points at the hub's discovery API.
type IntegrationConf struct {
	API          string `toml:"api" yaml:"api"`
	Token        string `toml:"token" yaml:"token"`
	Timeout      int    `toml:"timeout" yaml:"timeout"`             // seconds
	SyncInterval int    `toml:"sync-interval" yaml:"sync-interval"` // seconds, 0 = only at startup
}

// CacheConf selects the accessory cache backend. An empty address keeps the cache in memory.
type CacheConf struct {
	RedisAddr     string `toml:"redis-addr" yaml:"redis-addr"`
	RedisPassword string `toml:"redis-password" yaml:"redis-password"`
	RedisDB       int    `toml:"redis-db" yaml:"redis-db"`
	Key           string `toml:"key" yaml:"key"`
}

// StatusConf configures the status API. An empty listen address disables it.
type StatusConf struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// MDNSConf locates the broker and the hub API on the local network. Only the
// endpoints left empty in the mqtt and integration sections are looked up.
type MDNSConf struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	Domain       string `toml:"domain" yaml:"domain"`
	Timeout      int    `toml:"timeout" yaml:"timeout"` // seconds per lookup
	MQTTInstance string `toml:"mqtt-instance" yaml:"mqtt-instance"`
	MQTTService  string `toml:"mqtt-service" yaml:"mqtt-service"`
	APIInstance  string `toml:"api-instance" yaml:"api-instance"`
	APIService   string `toml:"api-service" yaml:"api-service"`
}

// Default returns the configuration used for every key missing from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		MQTT: MQTTConf{
			ClientID:      "mqttbridge",
			Schema:        "tcp",
			Port:          1883,
			Resubscribe:   true,
			PublishPolicy: "queue",
			QueueSize:     100,
			FlushRate:     20,
			RetryInterval: 5,
			KeepAlive:     30,
		},
		Integration: IntegrationConf{
			Timeout:      10,
			SyncInterval: 300,
		},
		Cache: CacheConf{
			Key: "mqttbridge:accessories",
		},
		MDNS: MDNSConf{
			Domain:       "local.",
			Timeout:      10,
			MQTTInstance: "mqtt-service",
			MQTTService:  "_mqtt._tcp",
			APIInstance:  "register-service",
			APIService:   "_http._tcp",
		},
	}
}

// NewConfig конструктор. Формат файла определяется по расширению (.yaml/.yml или TOML).
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return &cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return &cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return &cfg, err
		}
	}
	return &cfg, nil
}

// Validate checks the values NewConfig cannot default.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" && !c.MDNS.Enabled {
		return errors.New("mqtt: server is required unless mdns is enabled")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt: port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.Qos > 2 {
		return fmt.Errorf("mqtt: qos %d must be 0, 1 or 2", c.MQTT.Qos)
	}
	switch c.MQTT.PublishPolicy {
	case "queue", "fail":
	default:
		return fmt.Errorf("mqtt: unknown publish-policy %q (queue or fail)", c.MQTT.PublishPolicy)
	}
	if c.MQTT.PublishPolicy == "queue" && c.MQTT.QueueSize <= 0 {
		return errors.New("mqtt: queue-size must be positive with publish-policy queue")
	}
	if c.Integration.API == "" && !c.MDNS.Enabled {
		return errors.New("integration: api is required unless mdns is enabled")
	}
	if c.Integration.SyncInterval < 0 {
		return errors.New("integration: sync-interval cannot be negative")
	}
	if c.MDNS.Enabled && c.MDNS.Timeout <= 0 {
		return errors.New("mdns: timeout must be positive")
	}
	return nil
}
