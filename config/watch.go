package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the reloaded configuration every time the
// config file is written, until ctx is done. Invalid revisions are logged and
// skipped. Without a config file Watch only waits for ctx.
func (c *Config) Watch(ctx context.Context, logger *slog.Logger, onChange func(*Config)) error {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		<-ctx.Done()
		return nil
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(c.v)
		if err != nil {
			logger.Warn("Ignoring invalid config revision",
				slog.String("file", e.Name),
				slog.String("error", err.Error()))
			return
		}

		logger.Info("Config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	c.v.WatchConfig()

	<-ctx.Done()
	return nil
}
