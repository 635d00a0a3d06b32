package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr         string `yaml:"addr"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		NearCacheTTL string `yaml:"near_cache_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Scheduler struct {
		NodeID        string `yaml:"node_id"`
		DrainInterval string `yaml:"drain_interval"`
		PoolSize      int    `yaml:"pool_size"`
		QueueSize     int    `yaml:"queue_size"`
		LeaseTTL      string `yaml:"lease_ttl"`
	} `yaml:"scheduler"`
	Drain struct {
		Parallelism int `yaml:"parallelism"`
	} `yaml:"drain"`
	Dispatch struct {
		// Driver is one of local, redis or amqp.
		Driver  string `yaml:"driver"`
		AMQPURL string `yaml:"amqp_url"`
		Channel string `yaml:"channel"`
	} `yaml:"dispatch"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
