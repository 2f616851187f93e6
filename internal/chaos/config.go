package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds chaos configuration. Target restricts faults to one
// transport ("gateway" or "ems"); empty means all.
type Config struct {
	Enabled    bool
	Profile    string
	Target     string
	DropPct    int
	DelayMsMin int
	DelayMsMax int
	Seed       int64
	WindowMs   int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	enabled := getEnvAsBool("CHAOS_ENABLED", false)
	profile := getEnvAsString("CHAOS_PROFILE", "")
	target := getEnvAsString("CHAOS_TARGET", "")
	dropPct := getEnvAsInt("CHAOS_DROP_PCT", 0)
	delayMsMin := getEnvAsInt("CHAOS_DELAY_MS_MIN", 0)
	delayMsMax := getEnvAsInt("CHAOS_DELAY_MS_MAX", 0)
	seed := getEnvAsInt64("CHAOS_SEED", 1)
	windowMs := getEnvAsInt("CHAOS_WINDOW_MS", 0)

	return &Config{
		Enabled:    enabled,
		Profile:    profile,
		Target:     target,
		DropPct:    dropPct,
		DelayMsMin: delayMsMin,
		DelayMsMax: delayMsMax,
		Seed:       seed,
		WindowMs:   windowMs,
	}
}

// ParseProfile parses a profile string like "drop-pct=30,delay=50-250"
func ParseProfile(profile string) (dropPct int, delayMin int, delayMax int, err error) {
	if profile == "" {
		return 0, 0, 0, nil
	}

	for _, part := range strings.Split(profile, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "drop-pct="):
			dropPct, err = strconv.Atoi(strings.TrimPrefix(part, "drop-pct="))
			if err != nil {
				return 0, 0, 0, fmt.Errorf("invalid drop-pct: %w", err)
			}
			if dropPct < 0 || dropPct > 100 {
				return 0, 0, 0, fmt.Errorf("drop-pct out of range: %d", dropPct)
			}
		case strings.HasPrefix(part, "delay="):
			val := strings.TrimPrefix(part, "delay=")
			lo, hi, ok := strings.Cut(val, "-")
			if !ok {
				return 0, 0, 0, fmt.Errorf("invalid delay range %q", val)
			}
			if delayMin, err = strconv.Atoi(lo); err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay min: %w", err)
			}
			if delayMax, err = strconv.Atoi(hi); err != nil {
				return 0, 0, 0, fmt.Errorf("invalid delay max: %w", err)
			}
			if delayMin < 0 || delayMax < delayMin {
				return 0, 0, 0, fmt.Errorf("invalid delay range %q", val)
			}
		}
	}

	return dropPct, delayMin, delayMax, nil
}

func getEnvAsString(key, defaultValue string) string {
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

