package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env:"RELAY_ENV" env-default:"local"`
	Upstream struct {
		Enabled              bool          `yaml:"enabled" env:"BOT_GATEWAY_ENABLED" env-default:"true"`
		URL                  string        `yaml:"url" env:"BOT_GATEWAY_URL" env-default:"ws://127.0.0.1:8765/ws/relay"`
		Token                string        `yaml:"token" env:"BOT_GATEWAY_TOKEN" env-default:""`
		ReconnectInterval    time.Duration `yaml:"reconnect_interval" env:"BOT_GATEWAY_RECONNECT_INTERVAL" env-default:"5s"`
		MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval" env:"BOT_GATEWAY_MAX_RECONNECT_INTERVAL" env-default:"30s"`
	} `yaml:"upstream"`
	Database struct {
		Driver string `yaml:"driver" env:"RELAY_DB_DRIVER" env-default:"sqlite"`
		DSN    string `yaml:"dsn" env:"RELAY_DB_DSN" env-default:"data/chatrelay.db"`
	} `yaml:"database"`
	Sessions struct {
		Backend    string `yaml:"backend" env:"RELAY_SESSION_BACKEND" env-default:"sql"`
		CookieName string `yaml:"cookie_name" env:"RELAY_SESSION_COOKIE" env-default:"connect.sid"`
		Secret     string `yaml:"secret" env:"RELAY_SESSION_SECRET" env-default:""`
		Table      string `yaml:"table" env-default:"http_sessions"`
	} `yaml:"sessions"`
	Mongo struct {
		Host       string `yaml:"host" env-default:"127.0.0.1"`
		Port       string `yaml:"port" env-default:"27017"`
		User       string `yaml:"user" env-default:""`
		Password   string `yaml:"password" env-default:""`
		Database   string `yaml:"database" env-default:"chatrelay"`
		Collection string `yaml:"collection" env-default:"sessions"`
	} `yaml:"mongo"`
	Telegram struct {
		ApiKey  string `yaml:"api_key" env:"RELAY_TELEGRAM_KEY" env-default:""`
		AdminId int64  `yaml:"admin_id" env-default:"0"`
		BotName string `yaml:"bot_name" env-default:"ChatRelayBot"`
		Enabled bool   `yaml:"enabled" env-default:"false"`
	} `yaml:"telegram"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env:"RELAY_BIND_IP" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env:"RELAY_PORT" env-default:"9100"`
		WsPath string `yaml:"ws_path" env-default:"/ws"`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	once.Do(func() {
		conf, err := Load(path)
		if err != nil {
			desc, _ := cleanenv.GetDescription(&Config{}, nil)
			log.Fatal(fmt.Errorf("%s; %s", err, desc))
		}
		instance = conf
	})
	return instance
}

// Load reads path when it exists and applies environment overrides.
// A missing file falls back to environment and defaults only.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err = cleanenv.ReadConfig(path, conf); err != nil {
				return nil, err
			}
			return conf, conf.validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(conf); err != nil {
		return nil, err
	}
	return conf, conf.validate()
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Sessions.Backend {
	case "sql", "mongo":
	default:
		return fmt.Errorf("unsupported session backend %q", c.Sessions.Backend)
	}
	if c.Upstream.ReconnectInterval <= 0 {
		return errors.New("upstream reconnect interval must be positive")
	}
	if c.Upstream.MaxReconnectInterval < c.Upstream.ReconnectInterval {
		c.Upstream.MaxReconnectInterval = c.Upstream.ReconnectInterval
	}
	return nil
}
