package config

import (
	"slices"
	"strings"

	logx "meetbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// safe log fields describing the new values. Tokens and DSNs are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.PollTimeout != n.PollTimeout || !slices.Equal(o.OrganizerIDs, n.OrganizerIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.String("telegram.poll_timeout", n.PollTimeout),
			logx.Int("telegram.organizer_count", len(n.OrganizerIDs)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.String("dispatch.interval", newCfg.Dispatch.Interval),
			logx.Int("dispatch.queue_size", newCfg.Dispatch.QueueSize),
		)
	}

	if oldCfg.Conversation != newCfg.Conversation {
		changed = append(changed, "conversation")
		fields = append(fields,
			logx.String("conversation.backend", newCfg.Conversation.Backend),
			logx.String("conversation.ttl", newCfg.Conversation.TTL),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.reminder_lead", newCfg.Scheduler.ReminderLead),
		)
	}

	if oldCfg.I18n != newCfg.I18n {
		changed = append(changed, "i18n")
		fields = append(fields, logx.String("i18n.default_locale", newCfg.I18n.DefaultLocale))
	}
	return changed, fields
}

// RequiresRestart reports sections whose changes only take effect after a
// restart: the bot token, storage and the conversation backend.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Conversation.Backend != newCfg.Conversation.Backend {
		out = append(out, "conversation.backend")
	}
	if oldCfg.Dispatch.QueueSize != newCfg.Dispatch.QueueSize {
		out = append(out, "dispatch.queue_size")
	}
	return out
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}
