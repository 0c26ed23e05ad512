package config

import (
	"fmt"
	"net/url"
	"time"
)

// Engines understood by the crawler.
const (
	EngineChrome = "chrome"
	EngineStatic = "static"
)

// Config holds crawler runtime configuration.
type Config struct {
	DataDir         string
	PipelineFile    string
	SeedURL         string
	Engine          string // chrome or static
	Headless        bool
	ChromePath      string
	UserAgent       string
	Timeout         time.Duration
	ScriptWait      time.Duration
	ClickWait       time.Duration
	MaxPagesPerLink int
	CacheSize       int
	LogFile         string
	JournalPath     string
	MetricsAddr     string
	Verbose         bool
	Progress        bool
}

// DefaultConfig returns defaults for the recommend.my directory.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "data",
		PipelineFile:    "pipeline.json5",
		SeedURL:         "https://www.recommend.my/services/all-services",
		Engine:          EngineChrome,
		Headless:        true,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:         30 * time.Second,
		ScriptWait:      10 * time.Second,
		ClickWait:       3 * time.Second,
		MaxPagesPerLink: 0,
		CacheSize:       64,
		LogFile:         "crawler.log",
		JournalPath:     "journal.db",
		MetricsAddr:     "",
		Verbose:         false,
		Progress:        true,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	if c.SeedURL == "" {
		return fmt.Errorf("seed URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.SeedURL)
	if err != nil {
		return fmt.Errorf("invalid seed URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("seed URL must include a host")
	}

	if c.Engine != EngineChrome && c.Engine != EngineStatic {
		return fmt.Errorf("engine must be %s or %s", EngineChrome, EngineStatic)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ScriptWait <= 0 {
		return fmt.Errorf("script wait must be positive")
	}
	if c.ClickWait < 0 {
		return fmt.Errorf("click wait cannot be negative")
	}
	if c.MaxPagesPerLink < 0 {
		return fmt.Errorf("max pages per link cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
