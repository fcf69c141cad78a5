// Package gaspconfig loads node configuration via viper: defaults,
// then an optional YAML/JSON file, then environment overrides.
package gaspconfig

import "github.com/google/uuid"

// EngineConfig configures one gasp.Engine instance.
type EngineConfig struct {
	Topic           string `mapstructure:"topic"`
	Version         int    `mapstructure:"version"`
	Concurrency     int    `mapstructure:"concurrency"`
	Unidirectional  bool   `mapstructure:"unidirectional"`
	LogPrefix       string `mapstructure:"log_prefix"`
	LastInteraction uint32 `mapstructure:"last_interaction"`
}

// StorageConfig selects and configures the Storage backend.
type StorageConfig struct {
	ChainTracker    string `mapstructure:"chain_tracker"`
	MaxNodesInGraph int    `mapstructure:"max_nodes_in_graph"`
}

// PeerConfig describes a remote node to sync against.
type PeerConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Topic   string `mapstructure:"topic"`
}

// LoggerConfig configures gookit/slog.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// ServerConfig is the top-level node configuration.
type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	Port          int           `mapstructure:"port"`
	SyncInterval  int           `mapstructure:"sync_interval_seconds"`
	AdminToken    string        `mapstructure:"admin_token"`
	EngineConfig  EngineConfig  `mapstructure:"engine_config"`
	StorageConfig StorageConfig `mapstructure:"storage_config"`
	Peers         []PeerConfig  `mapstructure:"peers"`
	LoggerConfig  LoggerConfig  `mapstructure:"logger_config"`
}

// DefaultConfig returns the baseline configuration applied before any
// file or environment overrides. AdminToken defaults to a freshly
// generated token so a deployment that forgets to set one doesn't end
// up with an unprotected admin route.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost",
		Port:         3000,
		SyncInterval: 60,
		AdminToken:   uuid.NewString(),
		EngineConfig: EngineConfig{
			Topic:       "default",
			Version:     1,
			Concurrency: 8,
			LogPrefix:   "[gasp] ",
		},
		StorageConfig: StorageConfig{
			MaxNodesInGraph: 1000,
		},
		LoggerConfig: LoggerConfig{
			Level:       "info",
			Format:      "json",
			PrettyPrint: true,
		},
	}
}
