package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort        string
	AppMode        string
	BotIdentifier  string
	BotUsername    string
	BotName        string
	BotSummary     string
	FollowerPolicy string
	VoteTTLDays    int
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:        getEnv("APP_PORT", "8080"),
		AppMode:        getEnv("APP_MODE", "debug"),
		BotIdentifier:  getEnv("BOT_IDENTIFIER", "bot"),
		BotUsername:    getEnv("BOT_USERNAME", ""),
		BotName:        getEnv("BOT_NAME", ""),
		BotSummary:     getEnv("BOT_SUMMARY", ""),
		FollowerPolicy: getEnv("FOLLOWER_POLICY", "accept"),
		VoteTTLDays:    getEnvAsInt("VOTE_TTL_DAYS", 0),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
