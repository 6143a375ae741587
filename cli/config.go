// This file re-exports config types from internal/config for embedding programs.
package cli

import (
	"github.com/zot/zipenv/internal/config"
)

// Re-export config types
type (
	Config        = config.Config
	BuildConfig   = config.BuildConfig
	RuntimeConfig = config.RuntimeConfig
	LoggingConfig = config.LoggingConfig
	Duration      = config.Duration
)

// Re-export config functions
var (
	DefaultConfig = config.DefaultConfig
	LoadConfig    = config.Load
	LoadEnvConfig = config.LoadEnv
)
