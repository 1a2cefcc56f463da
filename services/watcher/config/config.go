package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the watcher service.
type Config struct {
	LogLevel string

	ServiceURL     string
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	LogInterval    time.Duration
	LogBatchLimit  int

	RedisAddr    string
	PostgresDSN  string
	KafkaBrokers string
	KafkaTopic   string

	HistoryRetention time.Duration
	PruneSchedule    string

	MirrorAddr   string
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		ServiceURL:       v.GetString("service_url"),
		ActiveInterval:   v.GetDuration("active_interval"),
		IdleInterval:     v.GetDuration("idle_interval"),
		LogInterval:      v.GetDuration("log_interval"),
		LogBatchLimit:    v.GetInt("log_batch_limit"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		KafkaTopic:       v.GetString("kafka_topic"),
		HistoryRetention: v.GetDuration("history_retention"),
		PruneSchedule:    v.GetString("prune_schedule"),
		MirrorAddr:       v.GetString("mirror_addr"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
	}
}
