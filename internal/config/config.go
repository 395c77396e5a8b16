package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server settings. Everything comes from the environment;
// spawn tuning can additionally be overridden by a YAML file.
type Config struct {
	Port          string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	Spawn         Spawn
}

// Spawn tunes the mole scheduler. Spawn cadence and visibility duration are
// independent knobs so each can be adjusted per difficulty level without
// touching the scheduler.
type Spawn struct {
	FirstDelay  time.Duration // delay before the first tick after start
	IntervalMin time.Duration // recurring tick cadence, jittered in [min,max)
	IntervalMax time.Duration
	VisibleMin  time.Duration // per-mole visibility window, jittered in [min,max)
	VisibleMax  time.Duration
	MaxPerTick  int // hard cap on moles raised in one tick
}

// DefaultSpawn returns the reference tuning.
func DefaultSpawn() Spawn {
	return Spawn{
		FirstDelay:  100 * time.Millisecond,
		IntervalMin: 800 * time.Millisecond,
		IntervalMax: 1200 * time.Millisecond,
		VisibleMin:  1500 * time.Millisecond,
		VisibleMax:  3 * time.Second,
		MaxPerTick:  3,
	}
}

// spawnFile is the YAML shape of the optional tuning file. Durations are
// milliseconds; zero values keep the default.
type spawnFile struct {
	FirstDelayMs  int `yaml:"first_delay_ms"`
	IntervalMinMs int `yaml:"interval_min_ms"`
	IntervalMaxMs int `yaml:"interval_max_ms"`
	VisibleMinMs  int `yaml:"visible_min_ms"`
	VisibleMaxMs  int `yaml:"visible_max_ms"`
	MaxPerTick    int `yaml:"max_per_tick"`
}

// Load reads PORT, SESSION_TTL and SWEEP_INTERVAL (with defaults), plus the
// spawn overrides when SPAWN_TUNING points at a YAML file.
func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "3001"),
		SessionTTL:    getDurationEnv("SESSION_TTL", time.Hour),
		SweepInterval: getDurationEnv("SWEEP_INTERVAL", 10*time.Minute),
		Spawn:         DefaultSpawn(),
	}

	if path := os.Getenv("SPAWN_TUNING"); path != "" {
		if err := loadSpawnFile(path, &cfg.Spawn); err != nil {
			return Config{}, fmt.Errorf("spawn tuning: %w", err)
		}
	}
	return cfg, nil
}

func loadSpawnFile(path string, sp *Spawn) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f spawnFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	if f.FirstDelayMs > 0 {
		sp.FirstDelay = time.Duration(f.FirstDelayMs) * time.Millisecond
	}
	if f.IntervalMinMs > 0 {
		sp.IntervalMin = time.Duration(f.IntervalMinMs) * time.Millisecond
	}
	if f.IntervalMaxMs > 0 {
		sp.IntervalMax = time.Duration(f.IntervalMaxMs) * time.Millisecond
	}
	if f.VisibleMinMs > 0 {
		sp.VisibleMin = time.Duration(f.VisibleMinMs) * time.Millisecond
	}
	if f.VisibleMaxMs > 0 {
		sp.VisibleMax = time.Duration(f.VisibleMaxMs) * time.Millisecond
	}
	if f.MaxPerTick > 0 {
		sp.MaxPerTick = f.MaxPerTick
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
