package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv                string
	LogLevel              string
	Port                  string
	AllowedOrigins        []string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BusinessTimezone      string
	StatsCacheTTLSeconds  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
}

// Load reads settings from the environment, with an optional .env file in
// the working directory for local runs.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("BUSINESS_TIMEZONE", "Africa/Accra")
	v.SetDefault("STATS_CACHE_TTL_SECONDS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 720)

	statsTTL := v.GetInt("STATS_CACHE_TTL_SECONDS")
	if statsTTL < 1 {
		statsTTL = 30
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 720
	}

	return Config{
		AppEnv:                strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:              strings.TrimSpace(v.GetString("LOG_LEVEL")),
		Port:                  strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigins:        splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		BusinessTimezone:      strings.TrimSpace(v.GetString("BUSINESS_TIMEZONE")),
		StatsCacheTTLSeconds:  statsTTL,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
