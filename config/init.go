package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
	IMAPConfig     *IMAPConfig
	SyncConfig     *SyncConfig
	WebhookConfig  *WebhookConfig
	ClusterConfig  *ClusterConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
		DatabaseConfig: &DatabaseConfig{},
		IMAPConfig:     &IMAPConfig{},
		SyncConfig:     &SyncConfig{},
		WebhookConfig:  &WebhookConfig{},
		ClusterConfig:  &ClusterConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailwatch config: %v", err)
	}

	return config, nil
}
