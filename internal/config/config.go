package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	QaaqIDIssuer      string
	QaaqIDClientID    string
	QaaqIDRedirectURL string

	RedisAddr     string
	RedisPassword string

	DatabaseDSN string

	AdminToken string
}

func Load() Config {
	// local development convenience; ignored when no .env exists
	_ = godotenv.Load()

	cfg := Config{

		AppPort: os.Getenv("APP_PORT"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		QaaqIDIssuer:      os.Getenv("QAAQID_ISSUER"),
		QaaqIDClientID:    os.Getenv("QAAQID_CLIENT_ID"),
		QaaqIDRedirectURL: os.Getenv("QAAQID_REDIRECT_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}

	return cfg
}
