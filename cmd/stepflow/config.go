package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all stepflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	TelegramToken string `json:"telegram_token"`
	DefaultChatID string `json:"default_chat_id"`
	FilesRoot     string `json:"files_root"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(stepflowDir(), "stepflow.db"),
		LogLevel:  "info",
		FilesRoot: filepath.Join(stepflowDir(), "files"),
	}
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func settingsPath() string {
	return filepath.Join(stepflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STEPFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEPFLOW_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("STEPFLOW_DEFAULT_CHAT_ID"); v != "" {
		cfg.DefaultChatID = v
	}
	if v := os.Getenv("STEPFLOW_FILES_ROOT"); v != "" {
		cfg.FilesRoot = v
	}

	return cfg
}
