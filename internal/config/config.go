package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                   string
	DatabaseURL            string
	AutoMigrate            bool
	RepeatVoidThreshold    int
	OfficeOpenHour         int
	OfficeCloseHour        int
	EventPollInterval      time.Duration
	EventBatchSize         int
	NATSURL                string
	NATSSubjectPrefix      string
	OTLPEndpoint           string
	OTLPInsecure           bool
	RateLimitPerMinute     int
	RateLimitBurst         int
	DeptRateLimitPerMinute int
	DeptRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                   port,
		DatabaseURL:            os.Getenv("DB_DSN"),
		AutoMigrate:            readBool("AUTO_MIGRATE", true),
		RepeatVoidThreshold:    readInt("REPEAT_VOID_THRESHOLD", 3),
		OfficeOpenHour:         readInt("OFFICE_OPEN_HOUR", 0),
		OfficeCloseHour:        readInt("OFFICE_CLOSE_HOUR", 0),
		EventPollInterval:      readDurationSeconds("EVENT_POLL_INTERVAL_SECONDS", 1),
		EventBatchSize:         readInt("EVENT_BATCH_SIZE", 100),
		NATSURL:                os.Getenv("NATS_URL"),
		NATSSubjectPrefix:      readString("NATS_SUBJECT_PREFIX", "queue"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:           readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		DeptRateLimitPerMinute: readInt("DEPT_RATE_LIMIT_PER_MIN", 600),
		DeptRateLimitBurst:     readInt("DEPT_RATE_LIMIT_BURST", 120),
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
