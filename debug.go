package esphosted

import (
	"context"

	"log/slog"
)

// levelTrace prints bus-level detail. More verbose than slog.LevelDebug.
const levelTrace = slog.LevelDebug - 1

func (d *Device) logenabled(level slog.Level) bool {
	return d.logger != nil && d.logger.Handler().Enabled(context.Background(), level)
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger != nil {
		d.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (d *Device) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Device) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	d.logattrs(levelTrace, msg, attrs...)
}
