package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL     string
	WSURL      string
	RedisURL   string
	ListenPort string

	// Учётные данные для первого входа, когда сохранённой сессии нет
	Username string
	Password string
}

// Load читает .env.local / .env, дальше берёт переменные окружения
func Load() *Config {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println(".env not found, using environment variables")
		}
	}

	return &Config{
		APIURL:     getenv("API_URL", "http://localhost:8080"),
		WSURL:      getenv("WS_URL", "ws://localhost:8080/ws"),
		RedisURL:   getenv("REDIS_URL", "redis://localhost:6379/0"),
		ListenPort: getenv("LISTEN_PORT", "7080"),
		Username:   os.Getenv("CHAT_USERNAME"),
		Password:   os.Getenv("CHAT_PASSWORD"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
