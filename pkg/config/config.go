package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime settings shared by the renderfarm binaries.
type Config struct {
	ProviderURL    string        `mapstructure:"provider_url"`
	ProviderAPIKey string        `mapstructure:"provider_api_key"`
	ProxyDomain    string        `mapstructure:"proxy_domain"`
	ServicePort    string        `mapstructure:"service_port"`
	OutputDir      string        `mapstructure:"output_dir"`
	PollDelay      time.Duration `mapstructure:"poll_delay"`
	ReadyAttempts  int           `mapstructure:"ready_attempts"`
	RedisURL       string        `mapstructure:"redis_url"`
	DatabaseURL    string        `mapstructure:"database_url"`
	OpsListenAddr  string        `mapstructure:"ops_listen_addr"`
}

// Load reads configuration from defaults, an optional config file under
// ./configs, and RENDERFARM_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("RENDERFARM")
	v.AutomaticEnv()

	v.SetDefault("provider_url", "https://api.gpuprovider.local")
	v.SetDefault("proxy_domain", "proxy.renderfarm.net")
	v.SetDefault("service_port", "8188/http")
	v.SetDefault("output_dir", "/workspace/output")
	v.SetDefault("poll_delay", "10s")
	v.SetDefault("ready_attempts", 30)
	v.SetDefault("ops_listen_addr", ":8086")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
