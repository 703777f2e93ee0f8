package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration, loaded from config.yaml
// with a handful of environment overrides for deploy-time values.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Store    StoreConfig   `yaml:"store"`
	Chat     ChatConfig    `yaml:"chat"`
	Stories  StoriesConfig `yaml:"stories"`
	LogLevel string        `yaml:"logLevel"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	AllowOrigins string `yaml:"allowOrigins"`
}

type StoreConfig struct {
	// Driver selects the document-store backend: "pebble" (embedded)
	// or "postgres".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type ChatConfig struct {
	// BlockedDomains is the destination blocklist for the link guard;
	// messages containing links to these hosts render a placeholder.
	BlockedDomains []string      `yaml:"blockedDomains"`
	TypingDebounce time.Duration `yaml:"typingDebounce"`
	DefaultTheme   string        `yaml:"defaultTheme"`
	DefaultEmoji   string        `yaml:"defaultEmoji"`
}

type StoriesConfig struct {
	// WindowHours is the trailing visibility window for the stories
	// surface; GalleryWindowHours the wider one the media gallery uses.
	WindowHours        int `yaml:"windowHours"`
	GalleryWindowHours int `yaml:"galleryWindowHours"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", AllowOrigins: "http://localhost:3000"},
		Store:  StoreConfig{Driver: "pebble", Path: "./data"},
		Chat: ChatConfig{
			TypingDebounce: 3 * time.Second,
			DefaultTheme:   "#0078d4",
			DefaultEmoji:   "👍",
		},
		Stories:  StoriesConfig{WindowHours: 12, GalleryWindowHours: 24},
		LogLevel: "info",
	}
}

// Load reads the yaml config at path, falling back to defaults when
// the file is absent, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("KIRIMIN_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("KIRIMIN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("KIRIMIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Chat.TypingDebounce <= 0 {
		cfg.Chat.TypingDebounce = 3 * time.Second
	}
	if cfg.Stories.WindowHours <= 0 {
		cfg.Stories.WindowHours = 12
	}
	if cfg.Stories.GalleryWindowHours <= 0 {
		cfg.Stories.GalleryWindowHours = 24
	}
	return cfg, nil
}
