package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// BuilderConfig captures runtime settings for the build service.
type BuilderConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	APIKey     string `mapstructure:"api_key"`

	MinExtent           int     `mapstructure:"min_extent"`
	MaxExtent           int     `mapstructure:"max_extent"`
	CommandDelaySeconds float64 `mapstructure:"command_delay_seconds"`

	PlannerBaseURL        string `mapstructure:"planner_base_url"`
	PlannerAPIKey         string `mapstructure:"planner_api_key"`
	PlannerModel          string `mapstructure:"planner_model"`
	PlannerTimeoutSeconds int    `mapstructure:"planner_timeout_seconds"`
	PlannerMaxRetries     int    `mapstructure:"planner_max_retries"`

	PricesFile  string `mapstructure:"prices_file"`
	DatabaseURL string `mapstructure:"database_url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	SSHHost            string `mapstructure:"ssh_host"`
	SSHPort            int    `mapstructure:"ssh_port"`
	SSHUsername        string `mapstructure:"ssh_username"`
	SSHPassword        string `mapstructure:"ssh_password"`
	SSHPrivateKey      string `mapstructure:"ssh_private_key"`
	SSHConsoleTemplate string `mapstructure:"ssh_console_template"`
	SSHFunctionDir     string `mapstructure:"ssh_function_dir"`
}

// CommandDelay converts the configured delay to a duration.
func (c BuilderConfig) CommandDelay() time.Duration {
	return time.Duration(c.CommandDelaySeconds * float64(time.Second))
}

// PlannerTimeout converts the configured planner timeout to a duration.
func (c BuilderConfig) PlannerTimeout() time.Duration {
	return time.Duration(c.PlannerTimeoutSeconds) * time.Second
}

// LoadBuilder loads builder configuration from defaults, files, and env vars.
func LoadBuilder() (BuilderConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("WORLDSMITH")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("min_extent", 1)
	v.SetDefault("max_extent", 64)
	v.SetDefault("command_delay_seconds", 0.1)
	v.SetDefault("planner_base_url", "http://localhost:11434/v1")
	v.SetDefault("planner_model", "qwen2.5-coder")
	v.SetDefault("planner_timeout_seconds", 60)
	v.SetDefault("planner_max_retries", 3)
	v.SetDefault("ssh_port", 22)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return BuilderConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg BuilderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return BuilderConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
