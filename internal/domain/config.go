// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config holds the application configuration loaded from the TOML config
// file and environment overrides.
type Config struct {
	Version string `mapstructure:"-"`

	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	BaseURL       string   `mapstructure:"baseUrl"`
	SessionSecret string   `mapstructure:"sessionSecret"`
	LogLevel      string   `mapstructure:"logLevel"`
	LogPath       string   `mapstructure:"logPath"`
	LogMaxSize    int      `mapstructure:"logMaxSize"`
	LogMaxBackups int      `mapstructure:"logMaxBackups"`
	DataDir       string   `mapstructure:"dataDir"`
	CorsOrigins   []string `mapstructure:"corsOrigins"`
}
