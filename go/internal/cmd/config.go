package main

import (
	"os"

	"github.com/mcdev12/caucus/go/internal/config"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig() (*config.Config, error) {
	return config.Load(getEnv("CONFIG_PATH", ""))
}
