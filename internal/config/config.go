package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName               string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RabbitMQURL           string
	RateEventsExchange    string
	RateCacheTTLSeconds   int
	RateWarmSchedule      string
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPassword         string
	LogLevel              string
	LogFormat             string
	FluentHost            string
	FluentPort            int
}

var defaults = map[string]any{
	"APP_NAME":                 "staybook",
	"PORT":                     "8080",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"REDIS_DB":                 0,
	"RATE_EVENTS_EXCHANGE":     "staybook.rates",
	"RATE_CACHE_TTL_SECONDS":   600,
	"RATE_WARM_SCHEDULE":       "@every 10m",
	"ACCESS_TOKEN_TTL_MINUTES": 480,
	"ADMIN_USERNAME":           "admin",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "text",
	"FLUENT_PORT":              24224,
}

// Load reads the process environment, after merging an optional .env file
// from the working directory. Variables already set win over .env.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: ignoring env file: %v", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	cfg := Config{
		AppName:               v.GetString("APP_NAME"),
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               positiveInt(v, "REDIS_DB", true),
		RabbitMQURL:           strings.TrimSpace(v.GetString("RABBITMQ_URL")),
		RateEventsExchange:    v.GetString("RATE_EVENTS_EXCHANGE"),
		RateCacheTTLSeconds:   positiveInt(v, "RATE_CACHE_TTL_SECONDS", false),
		RateWarmSchedule:      strings.TrimSpace(v.GetString("RATE_WARM_SCHEDULE")),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt(v, "ACCESS_TOKEN_TTL_MINUTES", false),
		AdminUsername:         strings.TrimSpace(v.GetString("ADMIN_USERNAME")),
		AdminPassword:         strings.TrimSpace(v.GetString("ADMIN_PASSWORD")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		FluentHost:            strings.TrimSpace(v.GetString("FLUENT_HOST")),
		FluentPort:            positiveInt(v, "FLUENT_PORT", false),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) RateCacheTTL() time.Duration {
	return time.Duration(c.RateCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// positiveInt falls back to the default when the value is not a number or is
// out of range.
func positiveInt(v *viper.Viper, key string, allowZero bool) int {
	fallback, _ := defaults[key].(int)

	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return fallback
	}
	return n
}
