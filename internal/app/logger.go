package app

import (
	"strings"

	"github.com/charlesng35/schoolx/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level.
func ConfigureLogging(level string, file LogFileConfig) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}

	opts := logger.Options{Level: level}
	if file.Enabled && strings.TrimSpace(file.Path) != "" {
		opts.File = &logger.FileOptions{
			Path:       file.Path,
			MaxSizeMB:  file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAgeDays: file.MaxAgeDays,
			Compress:   file.Compress,
		}
	}
	return logger.InitWithOptions(opts)
}
