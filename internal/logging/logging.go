package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/alfred-dev/control-sidecar/internal/config"
)

// New returns a configured zerolog.Logger: human-readable console output
// in development, structured JSON lines otherwise.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "info" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var log zerolog.Logger
	if cfg.IsDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return log.With().Str("service", cfg.ServiceName).Logger()
}
