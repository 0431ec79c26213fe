package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type MediaEngineConfig struct {
	URI               string        `mapstructure:"uri"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	MinVideoBandwidth int           `mapstructure:"min_video_bandwidth"`
	MaxVideoBandwidth int           `mapstructure:"max_video_bandwidth"`
	TeardownOnError   bool          `mapstructure:"teardown_on_error"`
}

type Config struct {
	Mode        string            `mapstructure:"mode"`
	Port        int               `mapstructure:"port"`
	StaticPath  string            `mapstructure:"static_path"`
	Secret      string            `mapstructure:"secret"`
	MediaEngine MediaEngineConfig `mapstructure:"media_engine"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "onecast-dev-secret")
	v.SetDefault("media_engine.uri", "ws://localhost:8888/engine")
	v.SetDefault("media_engine.call_timeout", "10s")
	v.SetDefault("media_engine.ping_interval", "30s")
	v.SetDefault("media_engine.min_video_bandwidth", 30)
	v.SetDefault("media_engine.max_video_bandwidth", 100)
	v.SetDefault("media_engine.teardown_on_error", false)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Engine: %s\n", cfg.Mode, cfg.Port, cfg.MediaEngine.URI)
	return &cfg, nil
}
