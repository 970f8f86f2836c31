package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort        int    `mapstructure:"APP_PORT"`
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	DatabasePath   string `mapstructure:"DATABASE_PATH"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	OpenAIAPIKey   string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `mapstructure:"OPENAI_BASE_URL"`
	ReplyModel     string `mapstructure:"REPLY_MODEL"`
	AnalysisModel  string `mapstructure:"ANALYSIS_MODEL"`
	SystemPrompt   string `mapstructure:"SYSTEM_PROMPT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AuthRequired   bool   `mapstructure:"AUTH_REQUIRED"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("STORAGE_BACKEND", "sqlite")
	viper.SetDefault("DATABASE_PATH", "/data/attune.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("OPENAI_BASE_URL", "")
	viper.SetDefault("REPLY_MODEL", "gpt-4o-mini")
	viper.SetDefault("ANALYSIS_MODEL", "gpt-4o-mini")
	viper.SetDefault("SYSTEM_PROMPT",
		"You are a warm, practical relationship counselor. Listen first, "+
			"reflect what you hear, and offer one concrete suggestion at a time.")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("AUTH_REQUIRED", false)

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
