package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CRAWLER_"

// LoadDotEnv loads variables from a .env file without overriding the
// ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of CRAWLER_<name>.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses CRAWLER_<name> as an integer.
func EnvInt(name string) (int, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// EnvBool parses CRAWLER_<name> as a boolean.
func EnvBool(name string) (bool, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// EnvDuration parses CRAWLER_<name> as a time.Duration ("30s", "2m").
func EnvDuration(name string) (time.Duration, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// ApplyEnv overrides cfg fields from CRAWLER_* variables.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATA_DIR":      &cfg.DataDir,
		"PIPELINE_FILE": &cfg.PipelineFile,
		"SEED_URL":      &cfg.SeedURL,
		"ENGINE":        &cfg.Engine,
		"CHROME_PATH":   &cfg.ChromePath,
		"USER_AGENT":    &cfg.UserAgent,
		"LOG_FILE":      &cfg.LogFile,
		"JOURNAL":       &cfg.JournalPath,
		"METRICS_ADDR":  &cfg.MetricsAddr,
	}
	for name, field := range strs {
		if value, ok := EnvString(name); ok {
			*field = value
		}
	}

	ints := map[string]*int{
		"MAX_PAGES_PER_LINK": &cfg.MaxPagesPerLink,
		"CACHE_SIZE":         &cfg.CacheSize,
	}
	for name, field := range ints {
		value, ok, err := EnvInt(name)
		if err != nil {
			return err
		}
		if ok {
			*field = value
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":     &cfg.Timeout,
		"SCRIPT_WAIT": &cfg.ScriptWait,
		"CLICK_WAIT":  &cfg.ClickWait,
	}
	for name, field := range durations {
		value, ok, err := EnvDuration(name)
		if err != nil {
			return err
		}
		if ok {
			*field = value
		}
	}

	bools := map[string]*bool{
		"HEADLESS": &cfg.Headless,
		"VERBOSE":  &cfg.Verbose,
		"PROGRESS": &cfg.Progress,
	}
	for name, field := range bools {
		value, ok, err := EnvBool(name)
		if err != nil {
			return err
		}
		if ok {
			*field = value
		}
	}
	return nil
}
