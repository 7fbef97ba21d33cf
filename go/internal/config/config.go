package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sparkwalk/walksync/go/internal/models"
)

// Config holds walksyncd settings, read from the environment (.env is
// loaded if present).
type Config struct {
	NATSURL     string
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string

	// HostID pins the daemon's participant identity across restarts.
	// Empty means a fresh identity per run.
	HostID string

	ProgressCadence time.Duration
}

// Load reads configuration from the environment.
func Load() Config {
	// Missing .env is fine; env vars stand on their own.
	_ = godotenv.Load()

	return Config{
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HostID:          getEnv("HOST_ID", ""),
		ProgressCadence: time.Duration(getEnvAsInt("PROGRESS_CADENCE_SEC", 2)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// SessionPreset is a YAML-defined session the daemon hosts at startup.
type SessionPreset struct {
	Name      string `yaml:"name"`
	Intervals []struct {
		Pace            string `yaml:"pace"`
		DurationSeconds uint32 `yaml:"duration_seconds"`
	} `yaml:"intervals"`
}

// LoadPreset parses a session preset file.
func LoadPreset(path string) (*SessionPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}
	var preset SessionPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	return &preset, nil
}

// Plan converts the preset's intervals to a model plan.
func (p *SessionPreset) Plan() models.IntervalPlan {
	out := make(models.IntervalPlan, 0, len(p.Intervals))
	for _, iv := range p.Intervals {
		out = append(out, models.PacedInterval{
			Pace:            models.Pace(iv.Pace),
			DurationSeconds: iv.DurationSeconds,
		})
	}
	return out
}
