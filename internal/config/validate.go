package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "meetbot/pkg/logx"
)

// Validate checks a parsed config. Every problem is reported, joined.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set MEETBOT_TELEGRAM_TOKEN)"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}
	if c.Logging.Chat.Enabled {
		if c.Logging.Chat.ChatID == 0 {
			add(errors.New("logging.chat.chat_id is required when chat logging is enabled"))
		}
		if !logx.ValidLevel(c.Logging.Chat.MinLevel) {
			add(fmt.Errorf("logging.chat.min_level: unknown level %q", c.Logging.Chat.MinLevel))
		}
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: want sqlite or postgres, got %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	if d, err := ParseDurationField("dispatch.interval", c.Dispatch.Interval); err != nil {
		add(err)
	} else if d == 0 {
		add(errors.New("dispatch.interval must be > 0"))
	}

	switch c.Conversation.Backend {
	case "memory", "storage":
	default:
		add(fmt.Errorf("conversation.backend: want memory or storage, got %q", c.Conversation.Backend))
	}
	_, err = ParseDurationField("conversation.ttl", c.Conversation.TTL)
	add(err)

	_, err = ParseDurationField("scheduler.reminder_lead", c.Scheduler.ReminderLead)
	add(err)
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location returns the scheduler timezone, or time.Local when unset.
func (c *Config) Location() *time.Location {
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
