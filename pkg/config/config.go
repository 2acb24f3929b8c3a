package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort             string
	BackendBaseURL         string
	PushWebSocketURL       string
	BackendToken           string
	CacheDBPath            string
	RefreshIntervalSeconds int64
	Environment            string
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:             getEnv("SERVER_PORT", "8080"),
		BackendBaseURL:         getEnv("BACKEND_BASE_URL", "http://localhost:5000"),
		PushWebSocketURL:       getEnv("PUSH_WS_URL", "ws://localhost:5000/socket"),
		BackendToken:           getEnv("BACKEND_TOKEN", ""),
		CacheDBPath:            getEnv("CACHE_DB_PATH", "./data/conversations.db"),
		RefreshIntervalSeconds: getEnvAsInt64("REFRESH_INTERVAL_SECONDS", 45),
		Environment:            getEnv("ENVIRONMENT", "development"),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
