package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
	"github.com/hamzalamin/qatrat-chat-core/internal/relay"
	"github.com/hamzalamin/qatrat-chat-core/internal/transport"
)

type Config struct {
	Client    ClientConfig
	Relay     RelayConfig
	WebSocket transport.Config `mapstructure:"websocket"`
	Redis     relay.RedisConfig
	JWT       JWTConfig
	Log       logx.Config
}

type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
	APIURL    string `mapstructure:"api_url"`
}

type RelayConfig struct {
	Host         string
	Port         int
	HistoryLimit int `mapstructure:"history_limit"`
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// Load reads configuration from ./config/config.yaml and environment
// variables, applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; rely on defaults and env vars.
	}

	v.SetDefault("client.server_url", "ws://localhost:8090/chat/ws")
	v.SetDefault("client.api_url", "http://localhost:8090")
	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 8090)
	v.SetDefault("relay.history_limit", 200)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("redis.max_len", 500)
	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("jwt.issuer", "chat-relay")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat")

	v.BindEnv("client.server_url", "CHAT_SERVER_URL")
	v.BindEnv("client.api_url", "CHAT_API_URL")
	v.BindEnv("relay.port", "PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
